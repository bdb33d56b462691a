package cli

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the latest intervals once and prune the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sync(cmd.Context())
	},
}
