package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/devicectl/pkg/devicectl/config"
	"github.com/telekom/devicectl/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// ErrWriter receives log lines. Defaults to stderr.
	ErrWriter io.Writer

	// Context is the parent of every command context, e.g. one cancelled on
	// SIGINT. Defaults to context.Background.
	Context context.Context

	// Clock and HTTPClient replace the real ones, mostly for tests.
	Clock      clock.Clock
	HTTPClient *http.Client
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	profileOverride string
	outputFormat    string
	headless        bool
	verbose         bool
	writer          io.Writer
	errWriter       io.Writer
	log             *zap.SugaredLogger

	clock      clock.Clock
	httpClient *http.Client
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrWriter,
		clock:      cfg.Clock,
		httpClient: cfg.HTTPClient,
	}

	root := &cobra.Command{
		Use:           "devicectl",
		Short:         "OAuth2 device authorization grant client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.profileOverride == "" {
				rt.profileOverride = os.Getenv("DEVICECTL_PROFILE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("DEVICECTL_OUTPUT")
			}
			if !rt.headless {
				rt.headless = strings.EqualFold(os.Getenv("DEVICECTL_HEADLESS"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("DEVICECTL_VERBOSE"), "true")
			}
			rt.log = system.NewLogger(rt.errWriter, rt.verbose)
			zap.ReplaceGlobals(rt.log.Desugar())

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" || cmd == cmd.Root() {
				return nil
			}

			cfg, err := config.LoadOrDefault(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Profile name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	root.SetContext(context.WithValue(parent, runtimeKey{}, rt))

	root.AddCommand(
		NewDeviceCodeCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) ResolveProfileName() string {
	if rt.profileOverride != "" {
		return rt.profileOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentProfileOrDefault()
	}
	return ""
}

// ResolveProfile returns the selected profile, or nil when none is configured.
// A profile requested by name must exist.
func (rt *runtimeState) ResolveProfile() (*config.Profile, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.ResolveProfileName()
	if name == "" {
		return nil, nil
	}
	return rt.cfg.FindProfile(name)
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return "table"
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

// ErrWriter receives everything that is not command output: logs and the
// device code instructions.
func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log != nil {
		return rt.log
	}
	return zap.S()
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.LoadOrDefault(rt.configPath)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
