package auth

// PollOutcome is the classification of a single token poll. It is one of
// PollComplete, PollPending or PollFailed.
type PollOutcome interface {
	pollOutcome()
}

type PendingReason string

const (
	AuthorizationPending PendingReason = "authorization_pending"
	SlowDown             PendingReason = "slow_down"
)

type PollComplete struct {
	Token *TokenResult
}

type PollPending struct {
	Reason PendingReason
}

type PollFailed struct {
	Err *TokenRequestFailedError
}

func (PollComplete) pollOutcome() {}
func (PollPending) pollOutcome()  {}
func (PollFailed) pollOutcome()   {}

// Err maps the pending reason to its sentinel error.
func (p PollPending) Err() error {
	if p.Reason == SlowDown {
		return ErrSlowDown
	}
	return ErrAuthorizationPending
}

func outcomeLabel(o PollOutcome) string {
	switch v := o.(type) {
	case PollComplete:
		return "complete"
	case PollPending:
		return string(v.Reason)
	default:
		return "failed"
	}
}
