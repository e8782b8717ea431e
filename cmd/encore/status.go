package main

import (
	"github.com/spf13/cobra"

	"goflare.io/encore"
)

func newStatusCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show circuit and client state for every configured platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cleanup, err := openEncore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if probe {
				probePlatforms(cmd, e)
			}
			renderStatus(cmd.OutOrStdout(), e.Status())
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Authenticate against every enabled platform first.")
	return cmd
}

func probePlatforms(cmd *cobra.Command, e *encore.Encore) {
	for _, name := range e.Platforms() {
		if _, err := e.Acquire(cmd.Context(), name); err != nil {
			cmd.PrintErrf("%s: %v\n", name, err)
		}
	}
}
