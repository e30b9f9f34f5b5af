package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/telekom/devicectl/pkg/metrics"
	"github.com/telekom/devicectl/pkg/version"
)

// RequestTimeout bounds every single request issued by the Transport.
const RequestTimeout = 10 * time.Second

// Transport issues the two device flow requests against a Keycloak style
// realm endpoint. It is safe for sequential reuse across attempts.
type Transport struct {
	client   *resty.Client
	endpoint oauth2.Endpoint
	clock    clock.PassiveClock
	log      *zap.SugaredLogger

	base *http.Client
}

type TransportOption func(*Transport)

// WithHTTPClient replaces the underlying http.Client. The client keeps its
// own TLS settings unless the flow config names a CA file or skips
// verification; then a copy of it carries those instead.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.base = c
	}
}

func WithTransportClock(c clock.PassiveClock) TransportOption {
	return func(t *Transport) {
		t.clock = c
	}
}

func WithTransportLogger(log *zap.SugaredLogger) TransportOption {
	return func(t *Transport) {
		t.log = log
	}
}

func NewTransport(cfg FlowConfig, opts ...TransportOption) (*Transport, error) {
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	t := &Transport{
		endpoint: cfg.OAuth2Endpoint(),
		clock:    clock.RealClock{},
		log:      zap.S(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.client, err = newRestyClient(t.base, tlsConfig, cfg.CAFile != "" || cfg.InsecureSkipTLS)
	if err != nil {
		return nil, err
	}
	t.client.
		SetTimeout(RequestTimeout).
		SetHeader("User-Agent", version.UserAgent()).
		SetHeader("Accept", "application/json").
		SetLogger(t.log)
	return t, nil
}

func newRestyClient(base *http.Client, tlsConfig *tls.Config, override bool) (*resty.Client, error) {
	if base == nil {
		return resty.New().SetTLSClientConfig(tlsConfig), nil
	}
	if !override {
		return resty.NewWithClient(base), nil
	}
	var transport *http.Transport
	switch rt := base.Transport.(type) {
	case nil:
		transport = http.DefaultTransport.(*http.Transport).Clone()
	case *http.Transport:
		transport = rt.Clone()
	default:
		return nil, fmt.Errorf("cannot apply TLS settings to transport %T", rt)
	}
	transport.TLSClientConfig = tlsConfig
	c := *base
	c.Transport = transport
	return resty.NewWithClient(&c), nil
}

// RequestDeviceCode starts a new authorization by requesting a device code.
// Any failure is returned as *DeviceCodeRequestError.
func (t *Transport) RequestDeviceCode(ctx context.Context, clientID string, scopes []string) (*DeviceCodeGrant, error) {
	grant, err := t.requestDeviceCode(ctx, clientID, scopes)
	if err != nil {
		metrics.DeviceCodeRequests.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.DeviceCodeRequests.WithLabelValues("success").Inc()
	return grant, nil
}

func (t *Transport) requestDeviceCode(ctx context.Context, clientID string, scopes []string) (*DeviceCodeGrant, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id": clientID,
			"scope":     strings.Join(NormalizeScopes(scopes), " "),
		}).
		Post(t.endpoint.DeviceAuthURL)
	if err != nil {
		return nil, &DeviceCodeRequestError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &DeviceCodeRequestError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	var grant DeviceCodeGrant
	if err := json.Unmarshal(resp.Body(), &grant); err != nil {
		return nil, &DeviceCodeRequestError{
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
			Err:        fmt.Errorf("failed to decode device code response: %w", err),
		}
	}
	if grant.DeviceCode == "" {
		return nil, &DeviceCodeRequestError{
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
			Err:        errors.New("device code response has no device_code"),
		}
	}
	t.log.Debugw("Received device code", "verificationURI", grant.VerificationURI, "expiresIn", grant.ExpiresIn)
	return &grant, nil
}

// PollToken performs a single token request for deviceCode and classifies
// the answer.
func (t *Transport) PollToken(ctx context.Context, clientID, deviceCode string) PollOutcome {
	outcome := t.pollToken(ctx, clientID, deviceCode)
	metrics.TokenPolls.WithLabelValues(outcomeLabel(outcome)).Inc()
	return outcome
}

func (t *Transport) pollToken(ctx context.Context, clientID, deviceCode string) PollOutcome {
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":  DeviceCodeGrantType,
			"device_code": deviceCode,
			"client_id":   clientID,
		}).
		Post(t.endpoint.TokenURL)
	if err != nil {
		return PollFailed{Err: &TokenRequestFailedError{Err: err}}
	}

	status := resp.StatusCode()
	var payload tokenPayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return PollFailed{Err: &TokenRequestFailedError{
			StatusCode: status,
			Err:        fmt.Errorf("failed to decode token response: %w", err),
		}}
	}

	if status == http.StatusOK {
		if payload.AccessToken == "" {
			return PollFailed{Err: &TokenRequestFailedError{
				StatusCode:  status,
				Code:        payload.Error,
				Description: payload.ErrorDescription,
				Err:         errors.New("token response has no access_token"),
			}}
		}
		return PollComplete{Token: payload.result(t.clock.Now())}
	}

	switch PendingReason(payload.Error) {
	case AuthorizationPending:
		return PollPending{Reason: AuthorizationPending}
	case SlowDown:
		return PollPending{Reason: SlowDown}
	}
	return PollFailed{Err: &TokenRequestFailedError{
		StatusCode:  status,
		Code:        payload.Error,
		Description: payload.ErrorDescription,
	}}
}
