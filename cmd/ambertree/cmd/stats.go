package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd reports aggregate shape statistics about the store's tree,
// walking every node to total key and node counts and the tree's depth.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics about the store",
	Long: `Show key count, node count, and tree depth for the ambertree store.

Example:
  ambertree stats`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		stats, err := s.Stats()
		if err != nil {
			return fmt.Errorf("computing stats: %w", err)
		}

		fmt.Printf("keys:  %d\n", stats.KeyCount)
		fmt.Printf("nodes: %d\n", stats.NodeCount)
		fmt.Printf("depth: %d\n", stats.Depth)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
