package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/acctl/pkg/acctl/config"
	"github.com/telekom/acctl/pkg/acctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage acctl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigProfilesCommand(),
		newConfigUseProfileCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		profile config.Profile
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Add a profile to the acctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			if profile.Name == "" {
				profile.Name = config.DefaultProfileName
			}
			if _, err := cfg.FindProfile(profile.Name); err == nil && !force {
				return fmt.Errorf("profile %s already exists in %s, use --force to replace it", profile.Name, path)
			}
			if err := profile.Validate(); err != nil {
				return err
			}
			cfg.SetProfile(profile)
			if cfg.CurrentProfile == "" {
				cfg.CurrentProfile = profile.Name
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Saved profile %s to %s\n", profile.Name, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&profile.Name, "name", config.DefaultProfileName, "Profile name")
	cmd.Flags().StringVar(&profile.BaseURL, "base-url", "", "Identity provider base URL")
	cmd.Flags().StringVar(&profile.ClientID, "client-id", "", "OAuth client id")
	cmd.Flags().StringVar(&profile.Realm, "realm", "", "Identity provider realm")
	cmd.Flags().StringVar(&profile.PlatformURL, "platform-url", "", "Platform API URL")
	cmd.Flags().StringVar(&profile.TokenStoreType, "token-store", "", "Token store: file, keychain, sqlite, memory or none")
	cmd.Flags().StringVar(&profile.TokenStorePath, "token-store-path", "", "Directory for file and sqlite token stores")
	cmd.Flags().IntVar(&profile.CallbackPort, "callback-port", 0, "Local login callback port")
	cmd.Flags().StringVar(&profile.ClientSecretEnv, "client-secret-env", "", "Environment variable holding a service account secret")
	cmd.Flags().StringVar(&profile.ClientSecretFile, "client-secret-file", "", "File holding a service account secret")
	cmd.Flags().StringVar(&profile.PrivateKeyFile, "private-key-file", "", "PEM private key for service account assertions")
	cmd.Flags().StringVar(&profile.ServiceClientID, "service-client-id", "", "Service account client id")
	cmd.Flags().StringVar(&profile.LoginTimeout, "login-timeout", "", "Browser login timeout, for example 5m")
	cmd.Flags().StringVar(&profile.CAFile, "ca-file", "", "CA bundle for the identity provider and platform")
	cmd.Flags().BoolVar(&profile.InsecureSkipTLS, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing profile")

	_ = cmd.MarkFlagRequired("base-url")
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
			format, err := rt.OutputFormat()
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
		Use:   "profiles",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			current := rt.cfg.CurrentProfileOrDefault()
			for _, p := range rt.cfg.Profiles {
				marker := " "
				if p.Name == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(rt.Writer(), "%s %s\t%s\n", marker, p.Name, p.BaseURL)
			}
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
