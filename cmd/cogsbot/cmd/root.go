package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:          "cogsbot",
	Short:        "Discord bot with Hypixel stats and birthday cogs",
	Long:         `cogsbot serves Hypixel stats cards, live autostats sessions and birthday announcements on Discord.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "path to config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with the bot token")
}

// initEnv loads the dotenv file so the bot token can live next to the
// config. A missing file is fine; variables already set win.
func initEnv() {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "env:", err)
	}
}
