package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the devicectl collectors only, so a textfile export carries
// no runtime metrics of the short lived CLI process.
var Registry = prometheus.NewRegistry()

var (
	DeviceCodeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicectl_device_code_requests_total",
		Help: "Total number of device authorization requests by result",
	}, []string{"result"})
	// outcome is complete, authorization_pending, slow_down or failed.
	TokenPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicectl_token_polls_total",
		Help: "Total number of token endpoint polls by classified outcome",
	}, []string{"outcome"})
	Authentications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devicectl_authentications_total",
		Help: "Total number of device code flow attempts by final result",
	}, []string{"result"})
	AuthenticationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "devicectl_authentication_duration_seconds",
		Help:    "Wall time of device code flow attempts",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

func init() {
	Registry.MustRegister(DeviceCodeRequests)
	Registry.MustRegister(TokenPolls)
	Registry.MustRegister(Authentications)
	Registry.MustRegister(AuthenticationDuration)
}

// WriteTextfile writes all metrics in the text exposition format, suitable for
// the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
