package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/mangafetch/scrape"
)

var (
	scrapeParams      []string
	scrapeSource      string
	scrapeNoCache     bool
	scrapeNonBlocking bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <target>",
	Short: "Run one scrape and print the result as JSON.",
	Example: `  mangafetch scrape latest
  mangafetch scrape chapters --param id=one-piece --source mangaalpha`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(scrapeParams)
		if err != nil {
			return err
		}
		s, err := openScraper()
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.Scrape(cmd.Context(), args[0], scrape.Options{
			Params:      params,
			Source:      scrapeSource,
			NoCache:     scrapeNoCache,
			NonBlocking: scrapeNonBlocking,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	scrapeCmd.Flags().StringArrayVarP(&scrapeParams, "param", "p", nil, "endpoint parameter as key=value (repeatable)")
	scrapeCmd.Flags().StringVar(&scrapeSource, "source", "", "preferred source ID")
	scrapeCmd.Flags().BoolVar(&scrapeNoCache, "no-cache", false, "bypass the result cache")
	scrapeCmd.Flags().BoolVar(&scrapeNonBlocking, "non-blocking", false, "skip rate-limited sources instead of waiting")
}

func parseParams(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
