package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/devicectl/pkg/devicectl/auth"
	"github.com/telekom/devicectl/pkg/devicectl/config"
	"github.com/telekom/devicectl/pkg/devicectl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage devicectl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigProfilesCommand(),
		newConfigCurrentProfileCommand(),
		newConfigUseProfileCommand(),
		newConfigSetProfileCommand(),
		newConfigDeleteProfileCommand(),
		newConfigSetValueCommand(),
	)

	return cmd
}

// profileFlags are shared by init and set-profile.
type profileFlags struct {
	endpoint string
	clientID string
	scopes   []string
	interval int
	timeout  int
	headless bool
	caFile   string
	insecure bool
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Realm base URL, e.g. https://<host>/realms/<realm>")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringSliceVar(&f.scopes, "scopes", nil, "Scopes to request")
	cmd.Flags().IntVar(&f.interval, "interval", 0, "Seconds between token polls")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Seconds to wait for the approval")
	cmd.Flags().BoolVar(&f.headless, "headless", false, "Never open a browser")
	cmd.Flags().StringVar(&f.caFile, "ca-file", "", "CA file")
	cmd.Flags().BoolVar(&f.insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
}

func (f *profileFlags) profile(name string) config.Profile {
	return config.Profile{
		Name:            name,
		Endpoint:        f.endpoint,
		ClientID:        f.clientID,
		Scopes:          f.scopes,
		Interval:        f.interval,
		Timeout:         f.timeout,
		Headless:        f.headless,
		CAFile:          f.caFile,
		InsecureSkipTLS: f.insecure,
	}
}

func newConfigInitCommand() *cobra.Command {
	var (
		profileName string
		force       bool
		flags       profileFlags
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a devicectl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if profileName == "" {
				profileName = "default"
			}
			cfg := config.DefaultConfig()
			cfg.CurrentProfile = profileName
			cfg.Profiles = append(cfg.Profiles, flags.profile(profileName))
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&profileName, "profile-name", "default", "Profile name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	flags.register(cmd)

	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.outputFormat)
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				format = output.FormatYAML
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}

func newConfigProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"get-profiles"},
		Short:   "List configured profiles",
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
			if format != output.FormatTable {
				return output.WriteObject(rt.Writer(), format, rt.cfg.Profiles)
			}
			output.WriteProfileTable(rt.Writer(), rt.cfg.Profiles, rt.cfg.CurrentProfile)
			return nil
		},
	}
}

func newConfigCurrentProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-profile",
		Short: "Show the current profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.cfg.CurrentProfileOrDefault())
			return nil
		},
	}
}

func newConfigUseProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "use-profile NAME",
		Aliases: []string{"use"},
		Short:   "Set the default profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindProfile(name); err != nil {
				return err
			}
			rt.cfg.CurrentProfile = name
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s\n", name)
			return nil
		},
	}
}

func newConfigSetProfileCommand() *cobra.Command {
	var flags profileFlags
	cmd := &cobra.Command{
		Use:   "set-profile NAME",
		Short: "Add or update a profile",
		Long: `Adds a profile, or updates the fields given as flags on an existing one.
Unset flags keep their current value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			profile := flags.profile(name)
			verb := "Added"
			if existing, err := rt.cfg.FindProfile(name); err == nil {
				verb = "Updated"
				profile = mergeProfile(*existing, profile, cmd)
			}
			rt.cfg.UpsertProfile(profile)
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s profile %s\n", verb, name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// mergeProfile applies the fields of update whose flags were set on cmd.
func mergeProfile(base, update config.Profile, cmd *cobra.Command) config.Profile {
	f := cmd.Flags()
	if f.Changed("endpoint") {
		base.Endpoint = update.Endpoint
	}
	if f.Changed("client-id") {
		base.ClientID = update.ClientID
	}
	if f.Changed("scopes") {
		base.Scopes = update.Scopes
	}
	if f.Changed("interval") {
		base.Interval = update.Interval
	}
	if f.Changed("timeout") {
		base.Timeout = update.Timeout
	}
	if f.Changed("headless") {
		base.Headless = update.Headless
	}
	if f.Changed("ca-file") {
		base.CAFile = update.CAFile
	}
	if f.Changed("insecure-skip-tls-verify") {
		base.InsecureSkipTLS = update.InsecureSkipTLS
	}
	return base
}

func newConfigDeleteProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-profile NAME",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			profiles := rt.cfg.Profiles
			filtered := profiles[:0]
			found := false
			for _, p := range profiles {
				if p.Name == name {
					found = true
					continue
				}
				filtered = append(filtered, p)
			}
			if !found {
				return fmt.Errorf("profile not found: %s", name)
			}
			rt.cfg.Profiles = filtered
			if rt.cfg.CurrentProfile == name {
				rt.cfg.CurrentProfile = ""
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Deleted profile %s\n", name)
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			key := args[0]
			value := args[1]
			switch key {
			case "settings.output-format":
				if _, err := output.ParseFormat(value); err != nil {
					return err
				}
				rt.cfg.Settings.OutputFormat = value
			case "settings.instructions-template":
				if _, err := auth.NewPrintInstructionsLauncher(io.Discard, value); err != nil {
					return err
				}
				rt.cfg.Settings.InstructionsTemplate = value
			case "settings.metrics-textfile":
				rt.cfg.Settings.MetricsTextfile = value
			default:
				return fmt.Errorf("unsupported key: %s", key)
			}
			return config.Save(rt.configPathValue(), rt.cfg)
		},
	}
}
