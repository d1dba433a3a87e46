package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"leadline/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialise workspace configuration",
	}
	cmd.AddCommand(configShowCmd(), configInitCmd(), configSetEnvCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, .env and LEADLINE_* overrides)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.Bridge.Password != "" {
				redacted.Bridge.Password = "****"
			}
			if redacted.Server.CallbackSecret != "" {
				redacted.Server.CallbackSecret = "****"
			}
			if viper.GetBool("json") {
				return printJSON(redacted)
			}
			out, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default leadline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configSetEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-env <key> <value>",
		Short: "Store a LEADLINE_* override in the workspace .env",
		Long:  "Keys use config paths, e.g. 'll config set-env bridge.password s3cret' writes LEADLINE_BRIDGE_PASSWORD.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := envKey(args[0])
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, key, args[1]); err != nil {
				return err
			}
			fmt.Printf("set %s in %s\n", key, path)
			return nil
		},
	}
}

// envKey maps a config path like bridge.webhook_base to
// LEADLINE_BRIDGE_WEBHOOK_BASE. Keys already in env form pass through.
func envKey(key string) string {
	k := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(strings.TrimSpace(key)))
	if strings.HasPrefix(k, config.EnvPrefix+"_") {
		return k
	}
	return config.EnvPrefix + "_" + k
}
