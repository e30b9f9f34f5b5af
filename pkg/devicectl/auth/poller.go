package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// SlowDownIncrement is added to the poll interval every time the token
// endpoint answers slow_down.
const SlowDownIncrement = 5 * time.Second

// DeviceFlowClient is the transport used by the engine.
type DeviceFlowClient interface {
	RequestDeviceCode(ctx context.Context, clientID string, scopes []string) (*DeviceCodeGrant, error)
	PollToken(ctx context.Context, clientID, deviceCode string) PollOutcome
}

// Poller polls the token endpoint for one device code until the
// authorization completes, fails, or the deadline passes. Polls are strictly
// sequential.
type Poller struct {
	Client DeviceFlowClient
	Clock  clock.Clock
	Log    *zap.SugaredLogger
}

// Poll returns the token on completion, a *TokenRequestFailedError on a
// terminal poll error and ErrTimedOut once timeout has elapsed since the
// first poll. No request is issued after the deadline and the wait before it
// is cut short at the deadline. Cancelling ctx stops the loop with ctx.Err(),
// also while waiting for the next tick.
func (p *Poller) Poll(ctx context.Context, clientID, deviceCode string, interval, timeout time.Duration) (*TokenResult, error) {
	log := p.Log
	if log == nil {
		log = zap.S()
	}
	deadline := p.Clock.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.Clock.Now().Before(deadline) {
			log.Debugw("Device code flow deadline reached", "attempts", attempt-1)
			return nil, ErrTimedOut
		}

		switch outcome := p.Client.PollToken(ctx, clientID, deviceCode).(type) {
		case PollComplete:
			log.Debugw("Device code flow completed", "attempts", attempt)
			return outcome.Token, nil
		case PollFailed:
			// An aborted in-flight request is not a verdict of the server.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, outcome.Err
		case PollPending:
			if outcome.Reason == SlowDown {
				interval += SlowDownIncrement
				log.Infow("Token endpoint asked to slow down", "interval", interval.String())
			}
			log.Debugw("Authorization pending", "attempt", attempt, "reason", outcome.Err().Error(), "nextPollIn", interval.String())
		}

		next := interval
		if remaining := deadline.Sub(p.Clock.Now()); remaining < next {
			next = remaining
		}
		if err := p.wait(ctx, next); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	timer := p.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
