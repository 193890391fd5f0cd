// Package mcp exposes the risk engine as Model Context Protocol tools so assistants can
// request assessments over stdio.
package mcp

import (
	"context"
	"fmt"
	"sort"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/service"
)

// Server wraps the MCP SDK server and the engine it serves
type Server struct {
	MCPServer *sdkmcp.Server

	engine    *service.RiskEngine
	assessor  domain.Assessor
	validator *service.RecordValidator
	logger    *logrus.Logger
}

// NewServer creates an MCP server with the lab risk tools registered. A nil assessor
// falls back to the engine.
func NewServer(cfg domain.MCPConfig, engine *service.RiskEngine, assessor domain.Assessor, logger *logrus.Logger) *Server {
	if assessor == nil {
		assessor = engine
	}

	s := &Server{
		MCPServer: sdkmcp.NewServer(
			&sdkmcp.Implementation{Name: cfg.ServerName, Version: cfg.ServerVersion},
			nil,
		),
		engine:    engine,
		assessor:  assessor,
		validator: service.NewRecordValidator(engine.Tables()),
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.logger.WithField("tables_version", s.engine.Tables().Version).Info("Starting MCP server on stdio")
	if err := s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "assess_lab_risk",
		Description: "Assess one patient's lab readings and return per-condition risk probabilities, labels and evidence.",
	}, s.handleAssess)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "assess_lab_risk_batch",
		Description: "Assess several patient records at once. Results keep the input order.",
	}, s.handleAssessBatch)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "classify_parameters",
		Description: "Classify lab readings as Low, Normal or High against gender-specific reference ranges.",
	}, s.handleClassify)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_conditions",
		Description: "List the assessed conditions, supported lab parameters and risk label cut points.",
	}, s.handleListConditions)

	s.logger.Debug("Registered MCP tools")
}

// --- Tool input/output types ---

type recordInput struct {
	ID       string             `json:"id,omitempty" jsonschema:"caller-supplied record identifier"`
	Age      int                `json:"age" jsonschema:"patient age in years"`
	Gender   string             `json:"gender" jsonschema:"male or female (m/f accepted)"`
	Pregnant bool               `json:"pregnant,omitempty" jsonschema:"only meaningful for female patients"`
	Readings map[string]float64 `json:"readings" jsonschema:"lab parameter name to value; common aliases such as hb or sgpt are accepted"`
}

func (in recordInput) record() domain.PatientRecord {
	return domain.PatientRecord{
		ID:       in.ID,
		Age:      in.Age,
		Gender:   domain.Gender(in.Gender),
		Pregnant: in.Pregnant,
		Readings: in.Readings,
	}
}

type assessBatchInput struct {
	Records []recordInput `json:"records" jsonschema:"patient records to assess"`
}

type assessBatchOutput struct {
	Count   int                         `json:"count"`
	Results []*domain.AggregationResult `json:"results"`
}

type classifyInput struct {
	Gender   string             `json:"gender" jsonschema:"male or female"`
	Readings map[string]float64 `json:"readings" jsonschema:"lab parameter name to value"`
}

type classifyOutput struct {
	Statuses map[string]domain.ParameterStatus `json:"statuses"`
	Unknown  []string                          `json:"unknown"`
}

type listConditionsInput struct{}

type listConditionsOutput struct {
	Conditions []string              `json:"conditions"`
	Parameters []string              `json:"parameters"`
	Labels     domain.LabelCutPoints `json:"labels"`
	Version    string                `json:"tables_version"`
}

// --- Tool handlers ---

func (s *Server) handleAssess(_ context.Context, _ *sdkmcp.CallToolRequest, input recordInput) (*sdkmcp.CallToolResult, domain.AggregationResult, error) {
	record, err := s.validator.Validate(input.record())
	if err != nil {
		return nil, domain.AggregationResult{}, fmt.Errorf("assess_lab_risk: %w", err)
	}

	result := s.assessor.Assess(record)
	s.logger.WithFields(logrus.Fields{
		"record_id":    record.ID,
		"overall":      result.OverallProbability,
		"overall_risk": result.OverallLabel,
	}).Debug("MCP assessment completed")

	return nil, *result, nil
}

func (s *Server) handleAssessBatch(ctx context.Context, _ *sdkmcp.CallToolRequest, input assessBatchInput) (*sdkmcp.CallToolResult, assessBatchOutput, error) {
	if len(input.Records) == 0 {
		return nil, assessBatchOutput{}, fmt.Errorf("records is required")
	}

	records := make([]domain.PatientRecord, len(input.Records))
	for i, in := range input.Records {
		record, err := s.validator.Validate(in.record())
		if err != nil {
			return nil, assessBatchOutput{}, fmt.Errorf("assess_lab_risk_batch: record %d: %w", i, err)
		}
		records[i] = record
	}

	results, err := s.assessor.AssessBatch(ctx, records)
	if err != nil {
		return nil, assessBatchOutput{}, fmt.Errorf("assess_lab_risk_batch: %w", err)
	}

	return nil, assessBatchOutput{Count: len(results), Results: results}, nil
}

func (s *Server) handleClassify(_ context.Context, _ *sdkmcp.CallToolRequest, input classifyInput) (*sdkmcp.CallToolResult, classifyOutput, error) {
	record, err := s.validator.Validate(domain.PatientRecord{Gender: domain.Gender(input.Gender), Readings: input.Readings})
	if err != nil {
		return nil, classifyOutput{}, fmt.Errorf("classify_parameters: %w", err)
	}

	statuses := s.engine.Classifier().ClassifyAll(record.Readings, record.Gender)
	unknown := []string{}
	for name := range record.Readings {
		if _, ok := statuses[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	return nil, classifyOutput{Statuses: statuses, Unknown: unknown}, nil
}

func (s *Server) handleListConditions(_ context.Context, _ *sdkmcp.CallToolRequest, _ listConditionsInput) (*sdkmcp.CallToolResult, listConditionsOutput, error) {
	t := s.engine.Tables()
	return nil, listConditionsOutput{
		Conditions: append([]string(nil), t.Conditions...),
		Parameters: s.engine.Ranges().Parameters(),
		Labels:     t.Labels,
		Version:    t.Version,
	}, nil
}
