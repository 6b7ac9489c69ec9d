package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/denisAlshanov/tubegrab/internal/config"
	"github.com/denisAlshanov/tubegrab/internal/metrics"
	"github.com/denisAlshanov/tubegrab/internal/services/ratelimit"
	"github.com/denisAlshanov/tubegrab/internal/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	utils.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a JSON error envelope: %v (%s)", err, w.Body.String())
	}
	return body
}

func okHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.APIConfig{APIKey: "secret-key"}

	testCases := []struct {
		name           string
		key            string
		expectedStatus int
	}{
		{name: "Valid key", key: "secret-key", expectedStatus: http.StatusOK},
		{name: "Missing key", key: "", expectedStatus: http.StatusUnauthorized},
		{name: "Wrong key", key: "secret-kex", expectedStatus: http.StatusUnauthorized},
		{name: "Prefix of key", key: "secret", expectedStatus: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := metrics.New()
			router := gin.New()
			router.Use(CorrelationIDMiddleware())
			router.GET("/api/test", AuthMiddleware(cfg, m), okHandler)

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tc.key != "" {
				req.Header.Set(APIKeyHeader, tc.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.expectedStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.expectedStatus)
			}
			if tc.expectedStatus == http.StatusOK {
				return
			}

			body := decodeError(t, w)
			if body.Error.Code != string(utils.ErrorCodeUnauthorized) {
				t.Errorf("error code = %q", body.Error.Code)
			}
			if body.RequestID == "" || body.RequestID != w.Header().Get("X-Request-ID") {
				t.Errorf("request_id = %q, header = %q", body.RequestID, w.Header().Get("X-Request-ID"))
			}
			if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
				t.Errorf("timestamp %q is not RFC3339", body.Timestamp)
			}
		})
	}
}

func newLimitedRouter(limit int, m *metrics.Metrics) *gin.Engine {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), limit, 15*time.Minute)
	router := gin.New()
	router.GET("/api/test", RateLimitMiddleware(limiter, m), okHandler)
	return router
}

func TestRateLimitMiddleware(t *testing.T) {
	m := metrics.New()
	router := newLimitedRouter(3, m)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for i := 1; i <= 3; i++ {
		w := send("203.0.113.7:5000")
		if w.Code != http.StatusOK {
			t.Fatalf("request #%d status = %d, want 200", i, w.Code)
		}
		if got := w.Header().Get("RateLimit-Limit"); got != "3" {
			t.Errorf("RateLimit-Limit = %q, want 3", got)
		}
		if got := w.Header().Get("RateLimit-Remaining"); got != strconv.Itoa(3-i) {
			t.Errorf("request #%d RateLimit-Remaining = %q, want %d", i, got, 3-i)
		}
	}

	w := send("203.0.113.7:5001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > int((15*time.Minute).Seconds()) {
		t.Errorf("Retry-After = %q, want seconds within the window", w.Header().Get("Retry-After"))
	}
	if body := decodeError(t, w); body.Error.Code != string(utils.ErrorCodeRateLimitExceeded) {
		t.Errorf("error code = %q", body.Error.Code)
	}

	if w := send("198.51.100.1:5000"); w.Code != http.StatusOK {
		t.Errorf("another client status = %d, want 200", w.Code)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `tubegrab_admission_rejections_total{reason="rate_limited"} 1`) {
		t.Error("rejection was not counted")
	}
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func (failingStore) Close() error { return nil }

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	limiter := ratelimit.NewLimiter(failingStore{}, 1, time.Minute)
	router := gin.New()
	router.GET("/api/test", RateLimitMiddleware(limiter, metrics.New()), okHandler)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request #%d status = %d, want 200 while the store is down", i+1, w.Code)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationIDMiddleware(), RecoveryMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeError(t, w); body.Error.Code != string(utils.ErrorCodeInternalError) {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestRecoveryMiddlewareRepanicsAbort(t *testing.T) {
	testCases := []struct {
		name    string
		handler gin.HandlerFunc
	}{
		{
			name: "Abort handler",
			handler: func(c *gin.Context) {
				panic(http.ErrAbortHandler)
			},
		},
		{
			name: "Panic after commit",
			handler: func(c *gin.Context) {
				c.Status(http.StatusOK)
				c.Writer.WriteHeaderNow()
				panic("late")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RecoveryMiddleware())
			router.GET("/abort", tc.handler)

			defer func() {
				rec := recover()
				if rec != http.ErrAbortHandler {
					t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
				}
			}()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
			t.Error("expected the abort panic to escape")
		})
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(BodyLimitMiddleware(16))
	router.POST("/echo", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			if limit, ok := BodyLimitExceeded(err); ok && limit == 16 {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, string(data))
	})

	testCases := []struct {
		name           string
		body           string
		chunked        bool
		expectedStatus int
	}{
		{name: "Within limit", body: "small", expectedStatus: http.StatusOK},
		{name: "Declared oversize", body: strings.Repeat("x", 17), expectedStatus: http.StatusRequestEntityTooLarge},
		{name: "Undeclared oversize", body: strings.Repeat("x", 64), chunked: true, expectedStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(tc.body))
			if tc.chunked {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.expectedStatus)
			}
		})
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	router.GET("/ids", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"correlation_id": utils.GetCorrelationID(ctx),
			"request_id":     utils.GetRequestID(ctx),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/ids", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["correlation_id"] != "corr-123" || w.Header().Get("X-Correlation-ID") != "corr-123" {
		t.Errorf("correlation id not propagated: body=%v header=%q", body, w.Header().Get("X-Correlation-ID"))
	}
	if body["request_id"] == "" || body["request_id"] != w.Header().Get("X-Request-ID") {
		t.Errorf("request id mismatch: body=%v header=%q", body, w.Header().Get("X-Request-ID"))
	}
}
