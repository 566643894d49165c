package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/stockpulse/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once over the forum feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Interrupting stops new units; running units finish and are saved.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		format, _ := cmd.Flags().GetString("output")
		if format == "text" {
			_, err := fmt.Fprint(os.Stdout, pipeline.FormatReport(report))
			return err
		}
		return writeOutput(os.Stdout, format, report)
	},
}

func init() {
	runCmd.Flags().StringP("output", "o", "json", "report format: json, yaml or text")
	rootCmd.AddCommand(runCmd)
}
