package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/stockpulse/internal/model"
	"github.com/sells-group/stockpulse/internal/store"
)

// companyFacts is everything the fact store holds for one company.
type companyFacts struct {
	Company   model.CompanyKey  `json:"company" yaml:"company"`
	Metrics   []model.Metric    `json:"metrics" yaml:"metrics"`
	Sentiment []model.Sentiment `json:"sentiment" yaml:"sentiment"`
}

func (f companyFacts) empty() bool {
	return len(f.Metrics) == 0 && len(f.Sentiment) == 0
}

func loadCompanyFacts(ctx context.Context, st store.FactStore, name string) (companyFacts, error) {
	facts := companyFacts{Company: name}
	var err error
	if facts.Metrics, err = st.CompanyMetrics(ctx, name); err != nil {
		return facts, eris.Wrapf(err, "metrics for %q", name)
	}
	if facts.Sentiment, err = st.CompanySentiment(ctx, name); err != nil {
		return facts, eris.Wrapf(err, "sentiment for %q", name)
	}
	return facts, nil
}

var companyCmd = &cobra.Command{
	Use:   "company <name>",
	Short: "Show stored metrics and monthly sentiment for a company",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		facts, err := loadCompanyFacts(ctx, st, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if facts.empty() {
			return eris.Errorf("no facts stored for %q", facts.Company)
		}

		format, _ := cmd.Flags().GetString("output")
		if format == "table" {
			formatCompanyFacts(os.Stdout, facts)
			return nil
		}
		return writeOutput(os.Stdout, format, facts)
	},
}

func formatCompanyFacts(out io.Writer, f companyFacts) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s\n\n", f.Company)
	_, _ = fmt.Fprintln(w, "METRIC\tVALUE\tUPDATED")
	for _, m := range f.Metrics {
		_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\n", m.Name, m.Value, m.UpdatedAt.Format("2006-01-02"))
	}
	_, _ = fmt.Fprintln(w, "\nMONTH\tSENTIMENT")
	for _, s := range f.Sentiment {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s.Month, s.Score)
	}
	_ = w.Flush()
}

func init() {
	companyCmd.Flags().StringP("output", "o", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(companyCmd)
}
