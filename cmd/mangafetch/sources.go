package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mangafetch/dbopen"
	"github.com/hazyhaar/mangafetch/scrape"
	"github.com/hazyhaar/mangafetch/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and manage sources.",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources in candidate order with breaker state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScraper()
		if err != nil {
			return err
		}
		defer s.Close()

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPRIORITY\tACTIVE\tBREAKER\tTARGETS")
		state := make(map[string]string)
		for _, h := range s.SourceHealth() {
			state[h.Source] = h.State
		}
		for _, src := range s.Registry().List() {
			fmt.Fprintf(tw, "%s\t%d\t%v\t%s\t%s\n",
				src.ID, src.Priority, src.Active, state[src.ID], strings.Join(src.Targets(), ","))
		}
		return tw.Flush()
	},
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <sources.yaml>",
	Short: "Validate and import a sources file into the sources database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := source.LoadFile(args[0])
		if err != nil {
			return err
		}
		st, closeDB, err := openStore()
		if err != nil {
			return err
		}
		defer closeDB()
		if err := st.Import(cmd.Context(), all); err != nil {
			return err
		}
		fmt.Printf("imported %d sources\n", len(all))
		return nil
	},
}

var sourcesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Mark a source active.",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd, args[0], true) },
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Mark a source inactive. Running servers pick the change up.",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(cmd, args[0], false) },
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a source from the sources database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeDB, err := openStore()
		if err != nil {
			return err
		}
		defer closeDB()
		return st.Delete(cmd.Context(), args[0])
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd, sourcesImportCmd, sourcesEnableCmd, sourcesDisableCmd, sourcesDeleteCmd)
}

func setActive(cmd *cobra.Command, id string, active bool) error {
	st, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	return st.SetActive(cmd.Context(), id, active)
}

// openStore opens the sources database named in the config.
func openStore() (*source.Store, func() error, error) {
	cfg, err := scrape.LoadConfigFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SourcesDB == "" {
		return nil, nil, errors.New("config has no sources_db; sources are defined inline")
	}
	db, err := dbopen.Open(cfg.SourcesDB, dbopen.WithMkdirAll(), dbopen.WithSchema(source.Schema))
	if err != nil {
		return nil, nil, err
	}
	return source.NewStore(db), db.Close, nil
}
