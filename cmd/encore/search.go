package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"goflare.io/encore"
)

func newSearchCmd() *cobra.Command {
	var (
		platform  string
		mediaType string
		requester string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Run one inline search across the enabled platforms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mt, err := encore.ParseMediaType(mediaType)
			if err != nil {
				return err
			}

			e, cleanup, err := openEncore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rs, err := e.Search(cmd.Context(), encore.Request{
				Query:     strings.Join(args, " "),
				Platform:  platform,
				MediaType: mt,
				Requester: requester,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rs)
			}
			renderResults(out, rs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Restrict the search to one platform.")
	cmd.Flags().StringVarP(&mediaType, "type", "t", "", "Media type: track, album, artist, playlist.")
	cmd.Flags().StringVar(&requester, "requester", "", "Requester id that scopes cached results.")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Results requested from each platform.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result set as JSON.")

	return cmd
}
