package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kagesort/prdl/internal/output"
	"github.com/kagesort/prdl/internal/search"
	"github.com/kagesort/prdl/internal/utils"
)

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Query the metadata search endpoint and list matching artifacts without downloading",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				fatal("loading config: %v", err)
			}
			if cfg.SearchURL == "" {
				fatal("search_url is required to search")
			}

			client := search.NewClient(cfg.SearchURL, utils.ClientConfig{ValidateTLS: cfg.ValidateTLS})
			results, err := client.Fetch(context.Background(), args[0])
			if err != nil {
				fatal("searching: %v", err)
			}
			if len(results) == 0 {
				output.PrintWarning("No matches")
				return
			}
			for _, r := range results {
				fmt.Printf("%s\t%s\t%s\t%d mirror(s)\n", r.Category, r.SpringName, r.Filename, len(r.Mirrors))
			}
		},
	}
}
