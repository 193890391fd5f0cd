package service

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/tables"
)

var _ domain.Assessor = (*RiskEngine)(nil)

// RiskEngine wires classification, both scorers and context aggregation. It holds only
// immutable tables and is safe for concurrent use.
type RiskEngine struct {
	logger     *logrus.Logger
	tables     *tables.Tables
	ranges     *ReferenceRangeTable
	classifier *ParameterClassifier
	rule       Scorer
	deviation  Scorer
	aggregator *ContextAggregator
	workers    int
}

// EngineOptions configures a RiskEngine
type EngineOptions struct {
	Workers      int
	IncludeTrace bool
}

// NewRiskEngine creates an engine over validated tables
func NewRiskEngine(t *tables.Tables, logger *logrus.Logger, opts EngineOptions) *RiskEngine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	ranges := NewReferenceRangeTable(t)
	return &RiskEngine{
		logger:     logger,
		tables:     t,
		ranges:     ranges,
		classifier: NewParameterClassifier(ranges),
		rule:       NewRuleEvidenceScorer(t, ranges),
		deviation:  NewDeviationScorer(t, ranges),
		aggregator: NewContextAggregator(t, WithTrace(opts.IncludeTrace)),
		workers:    opts.Workers,
	}
}

// Tables returns the engine's clinical tables
func (e *RiskEngine) Tables() *tables.Tables {
	return e.tables
}

// Ranges returns the reference range lookup
func (e *RiskEngine) Ranges() *ReferenceRangeTable {
	return e.ranges
}

// Classifier returns the parameter classifier
func (e *RiskEngine) Classifier() *ParameterClassifier {
	return e.classifier
}

// Assess runs the full pipeline for one record. It never fails: missing data degrades to
// baseline scores.
func (e *RiskEngine) Assess(record domain.PatientRecord) *domain.AggregationResult {
	ctx := record.Context()
	input := ScorerInput{
		Readings: record.Readings,
		Context:  ctx,
		Statuses: e.classifier.ClassifyAll(record.Readings, ctx.Gender),
	}

	inputs := make(map[string]ScorePair, len(e.tables.Conditions))
	for _, c := range e.tables.Conditions {
		rule := e.rule.Score(c, input)
		dev := e.deviation.Score(c, input)
		inputs[c] = ScorePair{Rule: &rule, Deviation: &dev}
	}

	result := e.aggregator.Aggregate(inputs, ctx)
	result.RecordID = record.ID
	result.Statuses = input.Statuses

	e.logger.WithFields(logrus.Fields{
		"record_id":           record.ID,
		"readings":            len(record.Readings),
		"overall_probability": result.OverallProbability,
		"overall_label":       result.OverallLabel,
	}).Debug("Assessed patient record")

	return result
}

// AssessBatch assesses records on a bounded worker pool. Output order matches input order.
// Cancelling ctx stops scheduling further records.
func (e *RiskEngine) AssessBatch(ctx context.Context, records []domain.PatientRecord) ([]*domain.AggregationResult, error) {
	return assessBatch(ctx, e.logger, e.workers, records, e.Assess)
}

func assessBatch(ctx context.Context, logger *logrus.Logger, workers int, records []domain.PatientRecord, assess func(domain.PatientRecord) *domain.AggregationResult) ([]*domain.AggregationResult, error) {
	start := time.Now()
	results := make([]*domain.AggregationResult, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = assess(records[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch assessment interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch assessment interrupted: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"records":  len(records),
		"workers":  workers,
		"duration": time.Since(start),
	}).Info("Assessed patient batch")

	return results, nil
}
