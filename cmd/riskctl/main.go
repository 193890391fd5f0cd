// riskctl runs lab risk assessments from the command line.
//
// Usage:
//
//	riskctl assess --input records.yaml [--tables tables.yaml] [--workers 4] [--output text|json] [--trace]
//	riskctl classify --gender f hb=9.5 platelets=90000
//	riskctl tables validate --file tables.yaml
//	riskctl tables dump
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lab-risk-aggregator/internal/config"
	"github.com/lab-risk-aggregator/internal/domain"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Aggregate lab readings into per-condition risk assessments",
		Long: "riskctl classifies lab readings against reference ranges, scores each condition\n" +
			"with rule evidence and deviation models, and adjusts the result for patient context.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	logger := func() *logrus.Logger {
		l, err := config.NewLogger(domain.LoggingConfig{Level: logLevel, Format: "text", Output: "stderr"})
		if err != nil {
			return logrus.New()
		}
		return l
	}

	root.AddCommand(newAssessCmd(logger))
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newTablesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
