package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chaviprom/procore/internal/score"
)

// validateCmd checks a scoring equation against a set of item numbers
// without touching the database, for use when authoring scales.
func validateCmd() *cobra.Command {
	var items []string

	cmd := &cobra.Command{
		Use:   "validate-equation <equation>",
		Short: "Validate a construct scoring equation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			numbers := make([]int, 0, len(items))
			for _, raw := range items {
				n, err := strconv.Atoi(raw)
				if err != nil {
					return fmt.Errorf("invalid item number %q", raw)
				}
				numbers = append(numbers, n)
			}
			if err := score.ValidateConstruct(args[0], numbers); err != nil {
				return err
			}
			cmd.Println("equation is valid")
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&items, "items", "i", nil, "item numbers the scale may reference")
	return cmd
}
