package consensus

import "errors"

var errObserverInjected = errors.New("consensus: injected observer failure")

// RecordingObserver captures every Observer callback in arrival order, for
// assertions in table-driven scenario tests.
type RecordingObserver struct {
	Proposed  []ProposedEvent
	Rollbacks []RollbackEvent
	Rejected  []RejectedEvent

	failNextProposed bool
	failNextRollback bool
}

func (r *RecordingObserver) BlockProposed(number BlockNumber, hash BlockHash, body []byte) error {
	if r.failNextProposed {
		r.failNextProposed = false
		return errObserverInjected
	}
	r.Proposed = append(r.Proposed, ProposedEvent{Number: number, Hash: hash, Body: body})
	return nil
}

func (r *RecordingObserver) Rollback(toNumber BlockNumber) error {
	if r.failNextRollback {
		r.failNextRollback = false
		return errObserverInjected
	}
	r.Rollbacks = append(r.Rollbacks, RollbackEvent{ToNumber: toNumber})
	return nil
}

func (r *RecordingObserver) BlockRejected(hash BlockHash) error {
	r.Rejected = append(r.Rejected, RejectedEvent{Hash: hash})
	return nil
}

// ProposedHashes returns just the hashes, in firing order, for terser
// assertions.
func (r *RecordingObserver) ProposedHashes() []BlockHash {
	out := make([]BlockHash, len(r.Proposed))
	for i, e := range r.Proposed {
		out[i] = e.Hash
	}
	return out
}
