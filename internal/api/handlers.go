package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/middleware"
	"github.com/lab-risk-aggregator/internal/service"
)

// AssessRequest is the body of POST /api/v1/assess
type AssessRequest struct {
	ID       string             `json:"id"`
	Age      *int               `json:"age" binding:"required"`
	Gender   string             `json:"gender" binding:"required"`
	Pregnant bool               `json:"pregnant"`
	Readings map[string]float64 `json:"readings"`
}

// Record converts the request into a patient record
func (r AssessRequest) Record() domain.PatientRecord {
	age := 0
	if r.Age != nil {
		age = *r.Age
	}
	return domain.PatientRecord{
		ID:       r.ID,
		Age:      age,
		Gender:   domain.Gender(r.Gender),
		Pregnant: r.Pregnant,
		Readings: r.Readings,
	}
}

// BatchRequest is the body of POST /api/v1/assess/batch
type BatchRequest struct {
	Records []AssessRequest `json:"records" binding:"required,min=1,dive"`
}

// ClassifyRequest is the body of POST /api/v1/classify
type ClassifyRequest struct {
	Gender   string             `json:"gender" binding:"required"`
	Readings map[string]float64 `json:"readings" binding:"required"`
}

// ClassifiedParameter is one row of the classify response
type ClassifiedParameter struct {
	Value     float64                `json:"value"`
	Unit      string                 `json:"unit,omitempty"`
	Range     domain.ReferenceRange  `json:"range"`
	Status    domain.ParameterStatus `json:"status"`
	Deviation float64                `json:"deviation"`
}

// ParameterInfo describes one supported lab parameter
type ParameterInfo struct {
	Name   string                 `json:"name"`
	Unit   string                 `json:"unit,omitempty"`
	Male   domain.ReferenceRange  `json:"male"`
	Female domain.ReferenceRange  `json:"female"`
	Bounds *domain.ReferenceRange `json:"plausible,omitempty"`
}

type cacheStatsProvider interface {
	Stats() service.CacheStats
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.configManager.GetConfig()
	body := gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"version":        cfg.MCP.ServerVersion,
		"tables_version": s.engine.Tables().Version,
		"conditions":     len(s.engine.Tables().Conditions),
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
	}
	if stats, ok := s.assessor.(cacheStatsProvider); ok {
		body["cache"] = stats.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// handleListConditions returns the assessed conditions and the label cut points
func (s *Server) handleListConditions(c *gin.Context) {
	t := s.engine.Tables()
	c.JSON(http.StatusOK, gin.H{
		"conditions":    t.Conditions,
		"labels":        t.Labels,
		"model_weights": gin.H{"rule_evidence": t.ModelWeights.RuleEvidence, "deviation": t.ModelWeights.Deviation},
		"stages":        service.NewContextAggregator(t).Stages(),
	})
}

// handleListParameters returns every parameter with its reference ranges
func (s *Server) handleListParameters(c *gin.Context) {
	ranges := s.engine.Ranges()
	names := ranges.Parameters()

	params := make([]ParameterInfo, 0, len(names))
	for _, name := range names {
		info := ParameterInfo{Name: name, Unit: ranges.Unit(name)}
		info.Male, _ = ranges.Lookup(name, domain.MALE)
		info.Female, _ = ranges.Lookup(name, domain.FEMALE)
		if bounds, ok := ranges.Plausible(name); ok {
			info.Bounds = &bounds
		}
		params = append(params, info)
	}

	c.JSON(http.StatusOK, gin.H{"parameters": params})
}

// handleClassify classifies raw readings without scoring any condition
func (s *Server) handleClassify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	record, err := s.validator.Validate(domain.PatientRecord{Gender: domain.Gender(req.Gender), Readings: req.Readings})
	if err != nil {
		s.rejectRecord(c, err)
		return
	}

	ranges := s.engine.Ranges()
	classified := make(map[string]ClassifiedParameter, len(record.Readings))
	unknown := []string{}
	for name, value := range record.Readings {
		status, ok := s.engine.Classifier().Classify(name, value, record.Gender)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		rng, _ := ranges.Lookup(name, record.Gender)
		classified[name] = ClassifiedParameter{
			Value:     value,
			Unit:      ranges.Unit(name),
			Range:     rng,
			Status:    status,
			Deviation: service.Deviation(value, rng),
		}
	}

	sort.Strings(unknown)

	c.JSON(http.StatusOK, gin.H{
		"gender":     record.Gender,
		"parameters": classified,
		"unknown":    unknown,
	})
}

// handleAssess validates one record and returns its aggregation result
func (s *Server) handleAssess(c *gin.Context) {
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	record, err := s.validator.Validate(req.Record())
	if err != nil {
		s.rejectRecord(c, err)
		return
	}

	c.JSON(http.StatusOK, s.assessor.Assess(record))
}

// handleAssessBatch validates every record before assessing any of them
func (s *Server) handleAssessBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	limit := s.configManager.GetServerConfig().MaxBatchSize
	if len(req.Records) > limit {
		middleware.AbortWithError(c, http.StatusRequestEntityTooLarge,
			domain.NewAPIError(domain.ErrInvalidInput, "Batch too large", "at most "+strconv.Itoa(limit)+" records per request", requestID(c)))
		return
	}

	records := make([]domain.PatientRecord, len(req.Records))
	for i, r := range req.Records {
		record, err := s.validator.Validate(r.Record())
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				ve.Field = "records[" + strconv.Itoa(i) + "]." + ve.Field
			}
			s.rejectRecord(c, err)
			return
		}
		records[i] = record
	}

	results, err := s.assessor.AssessBatch(c.Request.Context(), records)
	if err != nil {
		s.logger.WithError(err).WithField("correlation_id", requestID(c)).Warn("Batch assessment did not complete")
		middleware.AbortWithError(c, http.StatusServiceUnavailable,
			domain.NewAPIError(domain.ErrInternalServer, "Batch assessment did not complete", err.Error(), requestID(c)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	middleware.AbortWithError(c, http.StatusBadRequest,
		domain.NewAPIError(domain.ErrInvalidInput, "Invalid request body", err.Error(), requestID(c)))
}

func (s *Server) rejectRecord(c *gin.Context, err error) {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		middleware.AbortWithError(c, http.StatusBadRequest,
			domain.NewAPIError(domain.ErrInvalidInput, "Invalid record", err.Error(), requestID(c)))
		return
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"error": domain.NewAPIError(domain.ErrValidation, "Record failed validation", ve.Error(), requestID(c)),
		"field": ve.Field,
	})
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.CorrelationKey)
}
