package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/telekom/devicectl/pkg/metrics"
)

type reply struct {
	status int
	body   map[string]interface{}
}

var (
	pendingReply = reply{status: http.StatusBadRequest, body: map[string]interface{}{"error": "authorization_pending"}}
	tokenReply   = reply{status: http.StatusOK, body: map[string]interface{}{
		"access_token":       "tok1",
		"refresh_token":      "ref1",
		"expires_in":         300,
		"refresh_expires_in": 1800,
		"token_type":         "Bearer",
		"not-before-policy":  0,
		"session_state":      "s1",
		"scope":              "email oidc",
	}}
)

// fakeRealm serves the two Keycloak device flow endpoints.
type fakeRealm struct {
	clock  *clocktesting.FakeClock
	device reply
	tokens []reply

	mu          sync.Mutex
	deviceCalls int
	scope       string
	tokenCalls  []time.Time
}

func newFakeRealm(fc *clocktesting.FakeClock, tokens ...reply) *fakeRealm {
	return &fakeRealm{
		clock: fc,
		device: reply{status: http.StatusOK, body: map[string]interface{}{
			"device_code":               "abc",
			"user_code":                 "XYZ-123",
			"verification_uri":          "https://auth.example/device",
			"verification_uri_complete": "https://auth.example/device?user_code=XYZ-123",
			"expires_in":                300,
		}},
		tokens: tokens,
	}
}

func (f *fakeRealm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/realms/demo/protocol/openid-connect/auth/device":
		f.deviceCalls++
		f.scope = r.PostForm.Get("scope")
		writeJSON(w, f.device.status, f.device.body)
	case "/realms/demo/protocol/openid-connect/token":
		f.tokenCalls = append(f.tokenCalls, f.clock.Now())
		next := pendingReply
		if len(f.tokens) > 0 {
			next = f.tokens[0]
			f.tokens = f.tokens[1:]
		}
		writeJSON(w, next.status, next.body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeRealm) polls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.tokenCalls...)
}

type flowHarness struct {
	realm  *fakeRealm
	clock  *clocktesting.FakeClock
	out    *bytes.Buffer
	logs   *observer.ObservedLogs
	engine *Engine
	cfg    FlowConfig
}

func newFlowHarness(t *testing.T, tokens ...reply) *flowHarness {
	t.Helper()
	fc := clocktesting.NewFakeClock(epoch)
	// The attempt deadline and the wait before the next poll.
	t.Cleanup(stepWhileWaiting(fc, 2))
	realm := newFakeRealm(fc, tokens...)
	server := httptest.NewServer(realm)
	t.Cleanup(server.Close)

	core, logs := observer.New(zap.DebugLevel)
	out := &bytes.Buffer{}
	h := &flowHarness{
		realm: realm,
		clock: fc,
		out:   out,
		logs:  logs,
		cfg: FlowConfig{
			Endpoint: server.URL + "/realms/demo",
			ClientID: "cli-app",
			Scopes:   []string{"email"},
			Interval: time.Second,
			Timeout:  5 * time.Second,
			Headless: true,
		},
	}
	h.engine = NewEngine(
		WithClock(fc),
		WithLogger(zap.New(core).Sugar()),
		WithOutput(out),
		WithEngineHTTPClient(server.Client()),
		WithBrowserOpener(func(string) error { return errors.New("no browser in tests") }),
	)
	return h
}

func TestAuthenticateScenario(t *testing.T) {
	h := newFlowHarness(t, pendingReply, pendingReply, tokenReply)

	token, ok := h.engine.Authenticate(context.Background(), h.cfg)
	require.True(t, ok)
	assert.Equal(t, "tok1", token.AccessToken)
	assert.Equal(t, "ref1", token.RefreshToken)
	assert.Equal(t, "email oidc", token.Scope)

	assert.Equal(t, "Open https://auth.example/device, enter XYZ-123\n", h.out.String())
	assert.Equal(t, "email oidc", h.realm.scope)

	polls := h.realm.polls()
	require.Len(t, polls, 3)
	for i := 1; i < len(polls); i++ {
		assert.GreaterOrEqual(t, polls[i].Sub(polls[i-1]), time.Second)
	}
	assert.GreaterOrEqual(t, h.clock.Since(epoch), 2*time.Second)

	success := h.logs.FilterMessage("Successfully authenticated device code").All()
	require.Len(t, success, 1)
	assert.NotContains(t, success[0].ContextMap()["token"], "tok1")
	assert.NotContains(t, success[0].ContextMap()["token"], "ref1")
}

func TestAuthenticateDeviceCodeFailure(t *testing.T) {
	h := newFlowHarness(t)
	h.realm.device = reply{status: http.StatusBadRequest, body: map[string]interface{}{"error": "invalid_client"}}

	token, ok := h.engine.Authenticate(context.Background(), h.cfg)
	require.False(t, ok)
	require.Nil(t, token)
	assert.Empty(t, h.realm.polls(), "no poll may follow a failed device code request")
	assert.Empty(t, h.out.String())
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to complete the device code flow").Len())

	_, err := h.engine.Run(context.Background(), h.cfg)
	var reqErr *DeviceCodeRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Body, "invalid_client")
}

func TestAuthenticateTimesOut(t *testing.T) {
	h := newFlowHarness(t)
	before := testutil.ToFloat64(metrics.Authentications.WithLabelValues("timed_out"))

	token, ok := h.engine.Authenticate(context.Background(), h.cfg)
	require.False(t, ok)
	require.Nil(t, token)

	deadline := epoch.Add(h.cfg.Timeout)
	polls := h.realm.polls()
	require.Len(t, polls, 5)
	for _, at := range polls {
		assert.True(t, at.Before(deadline))
	}
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Authentications.WithLabelValues("timed_out")))
}

func TestRunDistinguishesTimeoutFromDenial(t *testing.T) {
	timeout := newFlowHarness(t)
	_, err := timeout.engine.Run(context.Background(), timeout.cfg)
	require.ErrorIs(t, err, ErrTimedOut)

	denied := newFlowHarness(t, reply{status: http.StatusBadRequest, body: map[string]interface{}{
		"error":             "access_denied",
		"error_description": "The end-user denied the authorization request",
	}})
	_, err = denied.engine.Run(context.Background(), denied.cfg)
	var failed *TokenRequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "access_denied", failed.Code)
	assert.Len(t, denied.realm.polls(), 1)
	assert.False(t, errors.Is(err, ErrTimedOut))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	h := newFlowHarness(t)
	h.cfg.Interval = 0

	_, err := h.engine.Run(context.Background(), h.cfg)
	require.ErrorContains(t, err, "interval")
	assert.Zero(t, h.realm.deviceCalls)
}

func TestRunHonoursAdvertisedInterval(t *testing.T) {
	h := newFlowHarness(t, pendingReply, tokenReply)
	h.realm.device.body["interval"] = 3
	h.cfg.Timeout = time.Minute

	_, err := h.engine.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	polls := h.realm.polls()
	require.Len(t, polls, 2)
	assert.Equal(t, 3*time.Second, polls[1].Sub(polls[0]))
}

func TestRunDeadlineCappedByGrantExpiry(t *testing.T) {
	h := newFlowHarness(t)
	h.realm.device.body["expires_in"] = 3
	h.cfg.Timeout = time.Minute

	_, err := h.engine.Run(context.Background(), h.cfg)
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Len(t, h.realm.polls(), 3)
}

func TestRunOpensBrowserWhenNotHeadless(t *testing.T) {
	h := newFlowHarness(t, tokenReply)
	h.cfg.Headless = false
	var opened string
	WithBrowserOpener(func(url string) error { opened = url; return nil })(h.engine)

	_, err := h.engine.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/device?user_code=XYZ-123", opened)
	assert.Empty(t, h.out.String())
}

func TestRunFallsBackToInstructions(t *testing.T) {
	h := newFlowHarness(t, tokenReply)
	h.cfg.Headless = false

	_, err := h.engine.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, "Open https://auth.example/device, enter XYZ-123\n", h.out.String())
}

func TestRunInvalidInstructionsTemplate(t *testing.T) {
	h := newFlowHarness(t)
	WithInstructionsTemplate("{{ .Nope ")(h.engine)

	_, err := h.engine.Run(context.Background(), h.cfg)
	require.Error(t, err)
	assert.Zero(t, h.realm.deviceCalls)
}

func TestRunParentContextCancelled(t *testing.T) {
	h := newFlowHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Run(ctx, h.cfg)
	require.Error(t, err)
	assert.Empty(t, h.realm.polls())
}

func TestRunUsesInjectedDeviceFlowClient(t *testing.T) {
	fc := clocktesting.NewFakeClock(epoch)
	t.Cleanup(stepWhileWaiting(fc, 2))
	client := &scriptedClient{clock: fc, outcomes: []PollOutcome{
		PollPending{Reason: SlowDown},
		PollComplete{Token: &TokenResult{AccessToken: "tok1"}},
	}}
	out := &bytes.Buffer{}
	engine := NewEngine(WithClock(fc), WithDeviceFlowClient(client), WithOutput(out), WithLogger(zap.NewNop().Sugar()))

	token, err := engine.Run(context.Background(), FlowConfig{
		Endpoint: "https://unreachable.invalid/realms/demo",
		ClientID: "cli-app",
		Interval: time.Second,
		Timeout:  time.Minute,
		Headless: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok1", token.AccessToken)
	polls := client.pollTimes()
	require.Len(t, polls, 2)
	assert.Equal(t, time.Second+SlowDownIncrement, polls[1].Sub(polls[0]))
	assert.Contains(t, out.String(), "XYZ-123")
}

// pollerGoroutines counts goroutines currently inside Poller.Poll.
func pollerGoroutines() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "(*Poller).Poll(")
}

func newRealClockEngine(t *testing.T) (*Engine, *fakeRealm, FlowConfig) {
	t.Helper()
	realm := newFakeRealm(clocktesting.NewFakeClock(epoch))
	server := httptest.NewServer(realm)
	t.Cleanup(server.Close)
	engine := NewEngine(
		WithLogger(zap.NewNop().Sugar()),
		WithOutput(io.Discard),
		WithEngineHTTPClient(server.Client()),
	)
	return engine, realm, FlowConfig{
		Endpoint: server.URL + "/realms/demo",
		ClientID: "cli-app",
		Interval: 20 * time.Second,
		Timeout:  time.Second,
		Headless: true,
	}
}

func TestRunTimeoutStopsPoller(t *testing.T) {
	engine, realm, cfg := newRealClockEngine(t)

	start := time.Now()
	_, err := engine.Run(context.Background(), cfg)
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, realm.polls(), 1)
	require.Eventually(t, func() bool { return pollerGoroutines() == 0 }, time.Second, 10*time.Millisecond,
		"poller still running after Run returned")
}

func TestRunCancelStopsPoller(t *testing.T) {
	engine, _, cfg := newRealClockEngine(t)
	cfg.Timeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	_, err := engine.Run(ctx, cfg)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Eventually(t, func() bool { return pollerGoroutines() == 0 }, time.Second, 10*time.Millisecond,
		"poller still running after Run returned")
}

func TestPollInterval(t *testing.T) {
	three, one := 3, 1
	assert.Equal(t, 5*time.Second, pollInterval(5*time.Second, &DeviceCodeGrant{}))
	assert.Equal(t, 5*time.Second, pollInterval(5*time.Second, &DeviceCodeGrant{Interval: &one}))
	assert.Equal(t, 3*time.Second, pollInterval(time.Second, &DeviceCodeGrant{Interval: &three}))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "complete", resultLabel(nil))
	assert.Equal(t, "timed_out", resultLabel(ErrTimedOut))
	assert.Equal(t, "device_code_failed", resultLabel(&DeviceCodeRequestError{StatusCode: 400}))
	assert.Equal(t, "token_failed", resultLabel(&TokenRequestFailedError{Code: "access_denied"}))
	assert.Equal(t, "aborted", resultLabel(context.Canceled))
}
