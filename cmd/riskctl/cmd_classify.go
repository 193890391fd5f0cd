package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/service"
	"github.com/lab-risk-aggregator/internal/tables"
)

func newClassifyCmd() *cobra.Command {
	var (
		gender     string
		tablesPath string
	)

	cmd := &cobra.Command{
		Use:   "classify name=value...",
		Short: "Classify readings as Low, Normal or High",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			readings, err := parseReadings(args)
			if err != nil {
				return err
			}

			t, err := tables.Load(tablesPath)
			if err != nil {
				return fmt.Errorf("load tables: %w", err)
			}
			record, err := service.ValidateRecord(domain.PatientRecord{Gender: domain.Gender(gender), Readings: readings}, t)
			if err != nil {
				return err
			}

			ranges := service.NewReferenceRangeTable(t)
			classifier := service.NewParameterClassifier(ranges)

			names := make([]string, 0, len(record.Readings))
			for name := range record.Readings {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				value := record.Readings[name]
				status, ok := classifier.Classify(name, value, record.Gender)
				if !ok {
					fmt.Fprintf(out, "%-14s %g\tunknown parameter\n", name, value)
					continue
				}
				rng, _ := ranges.Lookup(name, record.Gender)
				fmt.Fprintf(out, "%-14s %g %s\t%s (%g-%g)\n", name, value, ranges.Unit(name), status, rng.Low, rng.High)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&gender, "gender", "g", "", "Patient gender: male or female (required)")
	cmd.Flags().StringVar(&tablesPath, "tables", "", "Clinical tables file (default: embedded tables)")
	_ = cmd.MarkFlagRequired("gender")

	return cmd
}

// parseReadings turns name=value arguments into a readings map
func parseReadings(args []string) (map[string]float64, error) {
	readings := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("reading %q must look like name=value", arg)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", arg, err)
		}
		readings[strings.TrimSpace(name)] = value
	}
	return readings, nil
}
