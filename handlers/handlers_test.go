package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"report-filing-bot/metrics"
	"report-filing-bot/models"

	"github.com/gin-gonic/gin"
)

type fakeReader struct {
	reports map[int64]*models.Report
	pingErr error
	getErr  error
}

func (f *fakeReader) Ping(context.Context) error { return f.pingErr }

func (f *fakeReader) GetReport(_ context.Context, id int64) (*models.Report, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.reports[id], nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	testCases := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantHealth string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := SetupRouter(NewHandlers(&fakeReader{pingErr: tc.pingErr}))
			w := serve(r, "/api/v1/health")

			if w.Code != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, w.Code)
			}
			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Status != tc.wantHealth || resp.Service != serviceName {
				t.Errorf("Unexpected response %+v", resp)
			}
		})
	}
}

func TestGetReport(t *testing.T) {
	reader := &fakeReader{reports: map[int64]*models.Report{
		7: {ID: 7, Status: models.StatusSent, SubjectName: "Jane Roe", FollowUpCount: 1},
	}}
	r := SetupRouter(NewHandlers(reader))

	testCases := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/api/v1/reports/7", http.StatusOK},
		{"not found", "/api/v1/reports/8", http.StatusNotFound},
		{"not a number", "/api/v1/reports/abc", http.StatusBadRequest},
		{"negative", "/api/v1/reports/-1", http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, tc.path)
			if w.Code != tc.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	w := serve(r, "/api/v1/reports/7")
	var got models.Report
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if got.ID != 7 || got.Status != models.StatusSent || got.FollowUpCount != 1 {
		t.Errorf("Unexpected report %+v", got)
	}
}

func TestGetReportStoreError(t *testing.T) {
	r := SetupRouter(NewHandlers(&fakeReader{getErr: errors.New("db down")}))
	if w := serve(r, "/api/v1/reports/7"); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	metrics.TransitionsTotal.WithLabelValues(string(models.StatusSent)).Inc()

	r := SetupRouter(NewHandlers(&fakeReader{}))
	w := serve(r, "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "reportbot_lifecycle_report_transitions_total") {
		t.Error("Expected report transition counter in metrics output")
	}
}
