package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed summaries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ask"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		idx, err := newIndex(ctx, st, newPolicies(cfg))
		if err != nil {
			return err
		}

		topK := topKFlag(cmd)
		ans := idx.Answer(ctx, strings.Join(args, " "), topK)

		format, _ := cmd.Flags().GetString("output")
		if format == "text" {
			fmt.Fprintln(os.Stdout, ans.Text)
			for _, s := range ans.Sources {
				fmt.Fprintf(os.Stdout, "  - %s %s (%.4f)\n", s.Key.Company, s.Key.Month, s.Distance)
			}
			return nil
		}
		return writeOutput(os.Stdout, format, ans)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List the summaries nearest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("search"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		idx, err := newIndex(ctx, st, newPolicies(cfg))
		if err != nil {
			return err
		}

		hits, err := idx.Search(ctx, strings.Join(args, " "), topKFlag(cmd))
		if err != nil {
			return eris.Wrap(err, "search")
		}
		if len(hits) == 0 {
			fmt.Fprintln(os.Stderr, "No documents indexed.")
			return nil
		}

		format, _ := cmd.Flags().GetString("output")
		return writeOutput(os.Stdout, format, hits)
	},
}

func topKFlag(cmd *cobra.Command) int {
	k, _ := cmd.Flags().GetInt("top-k")
	if k <= 0 {
		return cfg.Retrieval.TopK
	}
	return k
}

func init() {
	askCmd.Flags().Int("top-k", 0, "documents to retrieve (default from config)")
	askCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	searchCmd.Flags().Int("top-k", 0, "documents to return (default from config)")
	searchCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(searchCmd)
}
