package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// putCmd represents the put command
var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Put a key-value pair",
	Long: `Put a key-value pair into the ambertree store.

Example:
  ambertree put mykey myvalue`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := []byte(args[0])
		value := []byte(args[1])

		s, ok := storeFromContext(cmd)
		if !ok {
			return fmt.Errorf("store not found in context")
		}

		if err := s.Set(key, value); err != nil {
			return fmt.Errorf("putting key-value: %w", err)
		}

		fmt.Printf("Successfully put key '%s' with value '%s'\n", string(key), string(value))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
}
