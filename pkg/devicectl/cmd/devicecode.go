package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/devicectl/pkg/devicectl/auth"
	"github.com/telekom/devicectl/pkg/devicectl/config"
	"github.com/telekom/devicectl/pkg/devicectl/output"
	"github.com/telekom/devicectl/pkg/metrics"
	"github.com/telekom/devicectl/pkg/system"
)

type deviceCodeOptions struct {
	endpoint        string
	clientID        string
	scopes          []string
	interval        int
	timeout         int
	headless        bool
	caFile          string
	insecure        bool
	metricsTextfile string
}

func NewDeviceCodeCommand() *cobra.Command {
	opts := &deviceCodeOptions{}

	cmd := &cobra.Command{
		Use:   "device-code",
		Short: "Obtain a token through the device authorization grant",
		Long: `Requests a device code from the realm endpoint, asks you to approve the
request in a browser and polls the token endpoint until the approval completes,
fails or the timeout elapses.`,
		Example: `  devicectl device-code --endpoint https://sso.example.com/realms/demo --client-id cli-app
  devicectl device-code --profile prod --headless -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			flowCfg, err := resolveFlowConfig(cmd, rt, opts)
			if err != nil {
				return err
			}

			log := rt.Logger().With(system.EndpointFields(flowCfg.Endpoint, flowCfg.ClientID)...)
			engineOpts := []auth.EngineOption{
				auth.WithLogger(log),
				auth.WithOutput(rt.ErrWriter()),
				auth.WithInstructionsTemplate(rt.cfg.Settings.InstructionsTemplate),
			}
			if rt.clock != nil {
				engineOpts = append(engineOpts, auth.WithClock(rt.clock))
			}
			if rt.httpClient != nil {
				engineOpts = append(engineOpts, auth.WithEngineHTTPClient(rt.httpClient))
			}

			token, runErr := auth.NewEngine(engineOpts...).Run(cmd.Context(), flowCfg)
			writeMetrics(rt, opts)
			if runErr != nil {
				log.Errorw("Failed to complete the device code flow", "error", runErr.Error())
				return describeFlowError(runErr, flowCfg)
			}
			log.Infow("Successfully authenticated device code", "token", token.String())

			if format == output.FormatTable {
				output.WriteTokenSummaryTable(rt.Writer(), token.Summary())
				return nil
			}
			return output.WriteObject(rt.Writer(), format, auth.NewCredentials(token.OAuth2Token()))
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Realm base URL, e.g. https://<host>/realms/<realm>")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringSliceVar(&opts.scopes, "scopes", config.DefaultScopes, "Scopes to request (oidc is always added)")
	cmd.Flags().IntVar(&opts.interval, "interval", config.DefaultInterval, "Seconds between token polls")
	cmd.Flags().IntVar(&opts.timeout, "timeout", config.DefaultTimeout, "Seconds to wait for the approval")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Print instructions instead of opening a browser")
	cmd.Flags().StringVar(&opts.caFile, "ca-file", "", "PEM bundle used to verify the authorization server")
	cmd.Flags().BoolVar(&opts.insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write flow metrics to this file in Prometheus text format")

	return cmd
}

// resolveFlowConfig merges defaults, the selected profile, environment and
// flags, in increasing order of precedence.
func resolveFlowConfig(cmd *cobra.Command, rt *runtimeState, opts *deviceCodeOptions) (auth.FlowConfig, error) {
	cfg := auth.FlowConfig{
		Scopes:   config.DefaultScopes,
		Interval: time.Duration(config.DefaultInterval) * time.Second,
		Timeout:  time.Duration(config.DefaultTimeout) * time.Second,
	}

	profile, err := rt.ResolveProfile()
	if err != nil {
		return cfg, err
	}
	if profile != nil {
		cfg.Endpoint = profile.Endpoint
		cfg.ClientID = profile.ClientID
		if len(profile.Scopes) > 0 {
			cfg.Scopes = profile.Scopes
		}
		if profile.Interval > 0 {
			cfg.Interval = time.Duration(profile.Interval) * time.Second
		}
		if profile.Timeout > 0 {
			cfg.Timeout = time.Duration(profile.Timeout) * time.Second
		}
		cfg.Headless = profile.Headless
		cfg.CAFile = profile.CAFile
		cfg.InsecureSkipTLS = profile.InsecureSkipTLS
	}

	if rt.headless {
		cfg.Headless = true
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = opts.endpoint
	}
	if flags.Changed("client-id") {
		cfg.ClientID = opts.clientID
	}
	if flags.Changed("scopes") {
		cfg.Scopes = opts.scopes
	}
	if flags.Changed("interval") {
		cfg.Interval = time.Duration(opts.interval) * time.Second
	}
	if flags.Changed("timeout") {
		cfg.Timeout = time.Duration(opts.timeout) * time.Second
	}
	if flags.Changed("headless") {
		cfg.Headless = opts.headless
	}
	if flags.Changed("ca-file") {
		cfg.CAFile = opts.caFile
	}
	if flags.Changed("insecure-skip-tls-verify") {
		cfg.InsecureSkipTLS = opts.insecure
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func writeMetrics(rt *runtimeState, opts *deviceCodeOptions) {
	path := opts.metricsTextfile
	if path == "" && rt.cfg != nil {
		path = rt.cfg.Settings.MetricsTextfile
	}
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		rt.Logger().Warnw("Failed to write metrics", "path", path, "error", err.Error())
	}
}

func describeFlowError(err error, cfg auth.FlowConfig) error {
	var deviceErr *auth.DeviceCodeRequestError
	var tokenErr *auth.TokenRequestFailedError
	switch {
	case errors.Is(err, auth.ErrTimedOut):
		return fmt.Errorf("no approval within %s: %w", cfg.Timeout, err)
	case errors.As(err, &deviceErr):
		return fmt.Errorf("could not start the device code flow: %w", err)
	case errors.As(err, &tokenErr):
		return fmt.Errorf("authorization was not granted: %w", err)
	default:
		return err
	}
}
