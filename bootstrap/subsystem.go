package bootstrap

import "context"

// Subsystem is an external domain-specific consumer of bootstrap data
// (UTxO, pools, accounts, governance, DReps state modules). The
// dispatcher owns the outbound queue and
// acknowledgement deadline for every subsystem; a Subsystem implementation
// only needs to accept one step's payload and report success, rejection,
// or (via ctx) a timeout.
//
// Dispatch must return promptly once ctx is cancelled; the dispatcher
// treats ctx.Err() reaching the call as equivalent to a timeout rather
// than a rejection, so a well-behaved Subsystem does not need to
// distinguish the two in its own return value.
type Subsystem interface {
	// Name identifies the subsystem in dispatcher errors and logs.
	Name() string

	// Dispatch delivers one step's payload and blocks until the
	// subsystem acknowledges it or ctx is done. A non-nil error other
	// than ctx's own is treated as an explicit rejection.
	Dispatch(ctx context.Context, step StepKind, payload any) error
}
