package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ssargent/ambertree/pkg/store"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key-value pair",
	Long: `Delete a key-value pair from the ambertree store.

Example:
  ambertree delete mykey`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := []byte(args[0])

		s, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		if err := s.Delete(key); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				return fmt.Errorf("key %q not found", key)
			}
			return fmt.Errorf("deleting key: %w", err)
		}

		fmt.Printf("Successfully deleted key '%s'\n", string(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
