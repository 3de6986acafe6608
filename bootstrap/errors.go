package bootstrap

import "fmt"

// SubsystemTimeoutError names the subsystem and step that failed to
// acknowledge within its deadline.
type SubsystemTimeoutError struct {
	Subsystem string
	Step      StepKind
	Deadline  string
}

func (e *SubsystemTimeoutError) Error() string {
	return fmt.Sprintf("bootstrap: subsystem %q did not acknowledge step %s within %s", e.Subsystem, e.Step, e.Deadline)
}

// SubsystemRejectedError names the subsystem, step and reason given for an
// explicit rejection.
type SubsystemRejectedError struct {
	Subsystem string
	Step      StepKind
	Reason    string
}

func (e *SubsystemRejectedError) Error() string {
	return fmt.Sprintf("bootstrap: subsystem %q rejected step %s: %s", e.Subsystem, e.Step, e.Reason)
}
