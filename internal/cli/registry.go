package cli

import (
	"github.com/spf13/cobra"

	"marketsnap/internal/app"
)

var registryPanel string

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect or reset the no-data registries",
}

var registryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List pairs currently skipped for returning no data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowRegistry(cmd.Context(), app.RegistryOptions{Panel: registryPanel})
	},
}

var registryResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a registry so every pair is retried",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResetRegistry(cmd.Context(), app.RegistryOptions{Panel: registryPanel})
	},
}

func init() {
	registryCmd.PersistentFlags().StringVar(&registryPanel, "panel", "lsr", "Registry to act on: structure or lsr")
	registryCmd.AddCommand(registryShowCmd)
	registryCmd.AddCommand(registryResetCmd)
}
