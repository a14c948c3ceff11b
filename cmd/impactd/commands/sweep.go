package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var SweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one deadline sweep over the open projects and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := buildApp(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
