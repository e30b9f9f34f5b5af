package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/devicectl/pkg/metrics"
)

// Engine runs device authorization attempts. An Engine may be reused; every
// attempt owns its own grant and poll state.
type Engine struct {
	clock        clock.Clock
	log          *zap.SugaredLogger
	out          io.Writer
	instructions string
	openBrowser  func(url string) error
	httpClient   *http.Client
	client       DeviceFlowClient
}

type EngineOption func(*Engine)

// WithClock replaces the wall clock used for pacing and deadlines.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(log *zap.SugaredLogger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithOutput sets where manual instructions are written. Defaults to stderr,
// which keeps stdout free for the token.
func WithOutput(w io.Writer) EngineOption {
	return func(e *Engine) { e.out = w }
}

func WithInstructionsTemplate(text string) EngineOption {
	return func(e *Engine) { e.instructions = text }
}

// WithBrowserOpener replaces the platform browser opener.
func WithBrowserOpener(open func(url string) error) EngineOption {
	return func(e *Engine) { e.openBrowser = open }
}

func WithEngineHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.httpClient = c }
}

// WithDeviceFlowClient replaces the HTTP transport built from the flow config.
func WithDeviceFlowClient(c DeviceFlowClient) EngineOption {
	return func(e *Engine) { e.client = c }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		clock: clock.RealClock{},
		log:   zap.S(),
		out:   os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authenticate runs one attempt and reports the token, or false when no
// credentials were obtained. The reason is logged, never returned: a timeout
// and an explicit failure look the same to the caller. Use Run to tell them
// apart.
func (e *Engine) Authenticate(ctx context.Context, cfg FlowConfig) (*TokenResult, bool) {
	token, err := e.Run(ctx, cfg)
	if err != nil {
		e.log.Errorw("Failed to complete the device code flow", "clientID", cfg.ClientID, "error", err.Error())
		return nil, false
	}
	e.log.Infow("Successfully authenticated device code", "clientID", cfg.ClientID, "token", token.String())
	return token, true
}

// Run requests a device code, notifies the user and waits until the token
// endpoint resolves the authorization or the timeout elapses. Errors are
// *DeviceCodeRequestError, *TokenRequestFailedError, ErrTimedOut, a
// validation error or the context's error.
func (e *Engine) Run(ctx context.Context, cfg FlowConfig) (*TokenResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := e.clock.Now()
	log := e.log.With("attempt", uuid.NewString(), "clientID", cfg.ClientID)

	token, err := e.run(ctx, cfg, log)
	metrics.AuthenticationDuration.Observe(e.clock.Since(start).Seconds())
	metrics.Authentications.WithLabelValues(resultLabel(err)).Inc()
	return token, err
}

func (e *Engine) run(ctx context.Context, cfg FlowConfig, log *zap.SugaredLogger) (*TokenResult, error) {
	printer, err := NewPrintInstructionsLauncher(e.out, e.instructions)
	if err != nil {
		return nil, err
	}
	launcher := NewBrowserLauncher(cfg.Headless, printer, log)
	if sys, ok := launcher.(*SystemBrowserLauncher); ok && e.openBrowser != nil {
		sys.Open = e.openBrowser
	}

	client, err := e.deviceFlowClient(cfg, log)
	if err != nil {
		return nil, err
	}

	grant, err := client.RequestDeviceCode(ctx, cfg.ClientID, cfg.Scopes)
	if err != nil {
		return nil, err
	}

	if err := launcher.Launch(grant); err != nil {
		log.Warnw("Failed to show device code instructions", "error", err.Error())
	}

	interval := pollInterval(cfg.Interval, grant)
	timeout := cfg.Timeout
	if expires := time.Duration(grant.ExpiresIn) * time.Second; expires > 0 && expires < timeout {
		timeout = expires
	}
	log.Debugw("Polling token endpoint", "interval", interval.String(), "timeout", timeout.String())

	poller := &Poller{Client: client, Clock: e.clock, Log: log}
	return e.await(ctx, poller, cfg.ClientID, grant.DeviceCode, interval, timeout)
}

func (e *Engine) deviceFlowClient(cfg FlowConfig, log *zap.SugaredLogger) (DeviceFlowClient, error) {
	if e.client != nil {
		return e.client, nil
	}
	opts := []TransportOption{WithTransportClock(e.clock), WithTransportLogger(log)}
	if e.httpClient != nil {
		opts = append(opts, WithHTTPClient(e.httpClient))
	}
	t, err := NewTransport(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type pollResult struct {
	token *TokenResult
	err   error
}

// await runs the poller on its own goroutine and blocks until it resolves or
// timeout elapses, whichever comes first. On timeout or cancellation the
// poller is stopped and awaited, so it never outlives the attempt.
func (e *Engine) await(ctx context.Context, poller *Poller, clientID, deviceCode string, interval, timeout time.Duration) (*TokenResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	expired := e.clock.NewTimer(timeout)
	defer expired.Stop()
	done := make(chan pollResult, 1)
	go func() {
		token, err := poller.Poll(ctx, clientID, deviceCode, interval, timeout)
		done <- pollResult{token: token, err: err}
	}()

	var err error
	select {
	case res := <-done:
		return res.token, res.err
	case <-expired.C():
		err = ErrTimedOut
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	<-done
	return nil, err
}

// pollInterval honours the server advertised interval when it is longer than
// the configured one.
func pollInterval(configured time.Duration, grant *DeviceCodeGrant) time.Duration {
	if grant.Interval != nil {
		if advertised := time.Duration(*grant.Interval) * time.Second; advertised > configured {
			return advertised
		}
	}
	return configured
}

func resultLabel(err error) string {
	var deviceErr *DeviceCodeRequestError
	var tokenErr *TokenRequestFailedError
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.As(err, &deviceErr):
		return "device_code_failed"
	case errors.As(err, &tokenErr):
		return "token_failed"
	default:
		return "aborted"
	}
}
