package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benno1237/bennos-cogs/internal/hypixel"
)

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List the supported Hypixel game modes",
	Run: func(cmd *cobra.Command, args []string) {
		for _, m := range hypixel.Modes() {
			watch := m.WatchKey
			if watch == "" {
				watch = "-"
			}
			fmt.Printf("%-16s db=%-14s watch=%s\n", m.CleanName, m.DbKey, watch)
		}
	},
}

func init() {
	rootCmd.AddCommand(modesCmd)
}
