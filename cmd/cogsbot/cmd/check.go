package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benno1237/bennos-cogs/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigManager(cfgFile).Load()
		if err != nil {
			return fmt.Errorf("%s: %w", cfgFile, err)
		}
		env := cfg.Discord.TokenEnvOrDefault()
		fmt.Printf("config ok: %s\n", cfgFile)
		fmt.Printf("  prefix:   %s\n", cfg.Discord.PrefixOrDefault())
		fmt.Printf("  owners:   %d\n", len(cfg.Discord.OwnerUserIDs))
		fmt.Printf("  storage:  %s\n", cfg.Storage.WithDefaults().Driver)
		fmt.Printf("  birthday: %v\n", cfg.Birthday.Enabled)
		if os.Getenv(env) == "" {
			fmt.Printf("  warning: %s is not set\n", env)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
