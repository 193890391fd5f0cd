package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lab-risk-aggregator/internal/config"
	"github.com/lab-risk-aggregator/internal/domain"
	"github.com/lab-risk-aggregator/internal/middleware"
	"github.com/lab-risk-aggregator/internal/service"
	"github.com/lab-risk-aggregator/internal/tables"
)

type errorBody struct {
	Error domain.APIError `json:"error"`
	Field string          `json:"field"`
}

func newTestServer(t *testing.T, cached bool) *Server {
	t.Helper()
	t.Chdir(t.TempDir())

	manager, err := config.NewManager()
	require.NoError(t, err)
	manager.GetConfig().Server.MaxBatchSize = 3

	tb, err := tables.Default()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	engine := service.NewRiskEngine(tb, logger, service.EngineOptions{Workers: 2})
	var assessor domain.Assessor = engine
	if cached {
		assessor, err = service.NewCachedEngine(engine, 16, logger)
		require.NoError(t, err)
	}

	return NewServer(manager, engine, assessor, logger)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, true)

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2025.1", body["tables_version"])
	assert.Equal(t, float64(8), body["conditions"])
	assert.Contains(t, body, "cache")
	assert.NotEmpty(t, w.Header().Get(middleware.CorrelationHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestListConditions(t *testing.T) {
	s := newTestServer(t, false)

	w := do(t, s, http.MethodGet, "/api/v1/conditions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Conditions []string              `json:"conditions"`
		Labels     domain.LabelCutPoints `json:"labels"`
		Stages     []string              `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Conditions, 8)
	assert.Contains(t, body.Conditions, "anemia")
	assert.Equal(t, domain.DefaultCutPoints, body.Labels)
	assert.Equal(t, []string{"combine", "age", "gender", "pregnancy", "comorbidity", "finalize"}, body.Stages)
}

func TestListParameters(t *testing.T) {
	s := newTestServer(t, false)

	w := do(t, s, http.MethodGet, "/api/v1/parameters", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Parameters []ParameterInfo `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Parameters)

	var hb *ParameterInfo
	for i := range body.Parameters {
		if body.Parameters[i].Name == "hemoglobin" {
			hb = &body.Parameters[i]
		}
	}
	require.NotNil(t, hb)
	assert.Equal(t, domain.ReferenceRange{Low: 13, High: 17}, hb.Male)
	assert.Equal(t, domain.ReferenceRange{Low: 12, High: 16}, hb.Female)
}

func TestClassify(t *testing.T) {
	s := newTestServer(t, false)

	w := do(t, s, http.MethodPost, "/api/v1/classify",
		`{"gender":"F","readings":{"Hb":10,"platelets":250000,"mystery":1}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Gender     domain.Gender                  `json:"gender"`
		Parameters map[string]ClassifiedParameter `json:"parameters"`
		Unknown    []string                       `json:"unknown"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.FEMALE, body.Gender)
	assert.Equal(t, domain.STATUS_LOW, body.Parameters["hemoglobin"].Status)
	assert.InDelta(t, -0.5, body.Parameters["hemoglobin"].Deviation, 1e-12)
	assert.Equal(t, 0.0, body.Parameters["platelets"].Deviation)
	assert.Equal(t, domain.STATUS_NORMAL, body.Parameters["platelets"].Status)
	assert.Equal(t, []string{"mystery"}, body.Unknown)
}

func TestAssess(t *testing.T) {
	s := newTestServer(t, true)

	w := do(t, s, http.MethodPost, "/api/v1/assess",
		`{"id":"p-1","age":70,"gender":"female","readings":{"hemoglobin":9}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res domain.AggregationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "p-1", res.RecordID)
	assert.InDelta(t, 0.744, res.PerCondition["anemia"].Probability, 1e-9)
	assert.Equal(t, domain.RISK_HIGH, res.OverallLabel)
	assert.Equal(t, domain.STATUS_LOW, res.Statuses["hemoglobin"])
}

func TestAssess_Rejections(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
		wantField string
	}{
		{"malformed json", `{"age":`, http.StatusBadRequest, domain.ErrInvalidInput, ""},
		{"missing age", `{"gender":"male","readings":{}}`, http.StatusBadRequest, domain.ErrInvalidInput, ""},
		{"missing gender", `{"age":40,"readings":{}}`, http.StatusBadRequest, domain.ErrInvalidInput, ""},
		{"unknown gender", `{"age":40,"gender":"x","readings":{}}`, http.StatusUnprocessableEntity, domain.ErrValidation, "gender"},
		{"age out of range", `{"age":200,"gender":"male","readings":{}}`, http.StatusUnprocessableEntity, domain.ErrValidation, "age"},
		{"implausible value", `{"age":40,"gender":"male","readings":{"hemoglobin":30}}`, http.StatusUnprocessableEntity, domain.ErrValidation, "readings.hemoglobin"},
		{"negative value", `{"age":40,"gender":"male","readings":{"glucose":-1}}`, http.StatusUnprocessableEntity, domain.ErrValidation, "readings.glucose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/assess", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error.Code)
			assert.Equal(t, tt.wantField, body.Field)
			assert.Equal(t, w.Header().Get(middleware.CorrelationHeader), body.Error.RequestID)
		})
	}
}

func TestAssessBatch(t *testing.T) {
	s := newTestServer(t, true)

	w := do(t, s, http.MethodPost, "/api/v1/assess/batch", `{"records":[
		{"id":"a","age":70,"gender":"female","readings":{"hemoglobin":9}},
		{"id":"b","age":40,"gender":"male","readings":{}}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Count   int                         `json:"count"`
		Results []*domain.AggregationResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "a", body.Results[0].RecordID)
	assert.Equal(t, "b", body.Results[1].RecordID)
	assert.Equal(t, domain.BaselineProbability, body.Results[1].OverallProbability)
}

func TestAssessBatch_Rejections(t *testing.T) {
	s := newTestServer(t, false)

	t.Run("too large", func(t *testing.T) {
		record := `{"age":40,"gender":"male","readings":{}}`
		w := do(t, s, http.MethodPost, "/api/v1/assess/batch",
			`{"records":[`+strings.Repeat(record+",", 3)+record+`]}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("empty", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/assess/batch", `{"records":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid record is located", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/api/v1/assess/batch", `{"records":[
			{"age":40,"gender":"male","readings":{}},
			{"age":40,"gender":"male","readings":{"hb":12,"hemoglobin":13}}
		]}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "records[1].readings.hemoglobin", body.Field)
	})
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, false)
	s.configManager.GetServerConfig().Host = "127.0.0.1"
	s.configManager.GetServerConfig().Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
