package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ssargent/ambertree/pkg/store"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a value for a key",
	Long: `Get a value for a key from the ambertree store.

Example:
  ambertree get mykey`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := []byte(args[0])

		s, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		value, err := s.Get(key)
		if errors.Is(err, store.ErrKeyNotFound) {
			return fmt.Errorf("key %q not found", key)
		}
		if err != nil {
			return fmt.Errorf("getting value: %w", err)
		}

		fmt.Printf("%s\n", string(value))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
