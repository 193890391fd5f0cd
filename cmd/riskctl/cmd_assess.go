package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/service"
	"github.com/lab-risk-aggregator/internal/tables"
)

type assessFlags struct {
	input   string
	tables  string
	workers int
	output  string
	trace   bool
}

func newAssessCmd(logger func() *logrus.Logger) *cobra.Command {
	var flags assessFlags

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess patient records from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAssess(cmd, flags, logger())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "Records file, YAML or JSON; - reads stdin (required)")
	f.StringVar(&flags.tables, "tables", "", "Clinical tables file (default: embedded tables)")
	f.IntVar(&flags.workers, "workers", 0, "Concurrent assessments (default: number of CPUs)")
	f.StringVarP(&flags.output, "output", "o", "text", "Output format: text or json")
	f.BoolVar(&flags.trace, "trace", false, "Include per-stage probabilities")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runAssess(cmd *cobra.Command, flags assessFlags, logger *logrus.Logger) error {
	if flags.output != "text" && flags.output != "json" {
		return fmt.Errorf("unsupported output format %q", flags.output)
	}

	t, err := tables.Load(flags.tables)
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}

	data, err := readInput(flags.input, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	docs, err := parseRecords(data)
	if err != nil {
		return err
	}
	records, err := validateRecords(docs, t)
	if err != nil {
		return err
	}

	engine := service.NewRiskEngine(t, logger, service.EngineOptions{Workers: flags.workers, IncludeTrace: flags.trace})
	results, err := engine.AssessBatch(cmd.Context(), records)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		writeResult(out, records[i], res)
	}
	return nil
}

// writeResult prints one assessment, highest risk first
func writeResult(out io.Writer, record domain.PatientRecord, res *domain.AggregationResult) {
	id := res.RecordID
	if id == "" {
		id = "(unnamed)"
	}
	pregnant := ""
	if record.Context().PregnancyApplies() {
		pregnant = ", pregnant"
	}
	fmt.Fprintf(out, "Record %s (%s, %d%s): overall %s %.3f\n",
		id, record.Gender, record.Age, pregnant, strings.ToUpper(res.OverallLabel.String()), res.OverallProbability)

	conditions := append([]string(nil), res.Conditions...)
	sort.SliceStable(conditions, func(i, j int) bool {
		return res.PerCondition[conditions[i]].Probability > res.PerCondition[conditions[j]].Probability
	})

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  CONDITION\tPROBABILITY\tLABEL\tRULES\tDEVIATION\tCONFIDENCE")
	for _, c := range conditions {
		score := res.PerCondition[c]
		fmt.Fprintf(tw, "  %s\t%.3f\t%s\t%.3f\t%.3f\t%.0f%%\n",
			c, score.Probability, score.Label, score.Contributing.Model1, score.Contributing.Model2, score.Confidence)
	}
	_ = tw.Flush()

	for _, c := range conditions {
		score := res.PerCondition[c]
		if score.Label == domain.RISK_LOW {
			continue
		}
		fmt.Fprintf(out, "  %s:\n", c)
		for _, e := range score.Evidence {
			fmt.Fprintf(out, "    - %s\n", e)
		}
		for _, st := range score.Stages {
			fmt.Fprintf(out, "    %-12s %.3f\n", st.Stage, st.Probability)
		}
	}
}
