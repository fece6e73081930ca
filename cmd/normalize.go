package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/contextractor/internal/extraction"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [file|-]",
		Short: "Normalize an extraction options mapping",
		Long: `Reads a JSON object of extraction options in camelCase or snake_case,
applies the defaults, validates it and prints the canonical snake_case mapping.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			data, err := readSource(cmd, path)
			if err != nil {
				return err
			}
			raw := map[string]any{}
			if len(bytes.TrimSpace(data)) > 0 {
				if err := json.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("decode options: %w", err)
				}
			}
			opts, err := extraction.FromMap(raw)
			if err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), opts.Kwargs())
		},
	}
}
