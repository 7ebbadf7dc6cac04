package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRankCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rank <domain-id>",
		Short: "Compute, persist and print the ranking of a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			result, err := a.engine.Rank(ctx, args[0])
			if err != nil {
				return err
			}
			a.rankings.Set(ctx, args[0], result)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
