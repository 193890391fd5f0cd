package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"correlation_id": c.GetString(CorrelationKey)})
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	r.GET("/deadline", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"has_deadline": ok})
	})
	return r
}

func get(r http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := get(newRouter(SecurityHeaders()), "/ping", nil)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestCorrelationID(t *testing.T) {
	r := newRouter(CorrelationID())

	t.Run("generated when absent", func(t *testing.T) {
		w := get(r, "/ping", nil)
		id := w.Header().Get(CorrelationHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, id, body["correlation_id"])
	})

	t.Run("propagated when valid", func(t *testing.T) {
		id := uuid.New().String()
		w := get(r, "/ping", http.Header{CorrelationHeader: {id}})
		assert.Equal(t, id, w.Header().Get(CorrelationHeader))
	})

	t.Run("propagated regardless of header case", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("x-correlation-id", id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, id, w.Header().Get(CorrelationHeader))
	})

	t.Run("replaced when malformed", func(t *testing.T) {
		w := get(r, "/ping", http.Header{CorrelationHeader: {"<script>"}})
		assert.NotEqual(t, "<script>", w.Header().Get(CorrelationHeader))
	})
}

func TestRateLimiter(t *testing.T) {
	r := newRouter(CorrelationID(), RateLimiter(0.001, 2))

	assert.Equal(t, http.StatusOK, get(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ping", nil).Code)

	w := get(r, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
	assert.Equal(t, w.Header().Get(CorrelationHeader), body.Error.RequestID)
}

func TestRecovery(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	w := get(newRouter(CorrelationID(), Recovery(logger)), "/panic", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
	assert.Contains(t, buf.String(), "Recovered from panic")
}

func TestRequestLogger(t *testing.T) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	w := get(newRouter(CorrelationID(), RequestLogger(logger)), "/ping", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Request completed", entry["msg"])
	assert.Equal(t, "/ping", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, w.Header().Get(CorrelationHeader), entry["correlation_id"])
}

func TestRequestTimeout(t *testing.T) {
	w := get(newRouter(RequestTimeout(time.Second)), "/deadline", nil)
	assert.JSONEq(t, `{"has_deadline":true}`, w.Body.String())

	w = get(newRouter(RequestTimeout(0)), "/deadline", nil)
	assert.JSONEq(t, `{"has_deadline":false}`, w.Body.String())
}
