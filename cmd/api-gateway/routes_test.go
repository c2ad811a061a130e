package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/handler"
	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
)

func testRouter(t *testing.T, exportEnabled bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Env:        config.EnvProduction,
		APIPrefix:  "/api/v1",
		JWT:        config.JWTConfig{Secret: "route-secret"},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Attendance: config.AttendanceConfig{AuditExportEnabled: exportEnabled},
	}
	r := gin.New()
	registerRoutes(r, cfg, routeDeps{
		verifier: middleware.NewTokenVerifier(cfg.JWT),
		commands: handler.NewAttendanceHandler(nil),
		queries:  handler.NewAttendanceQueryHandler(nil, nil),
		ops:      handler.NewMetricsHandler(service.NewMetricsService(), nil),
	})
	return r
}

func bearer(t *testing.T, role models.UserRole) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, models.JWTClaims{
		UserID:           "user-1",
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("route-secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRoutesOperationalEndpoints(t *testing.T) {
	r := testRouter(t, true)
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/index.html", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutesRequireToken(t *testing.T) {
	r := testRouter(t, true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/attendance/rec-1/submit", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutesKeepLeadershipOffCommands(t *testing.T) {
	r := testRouter(t, true)
	for _, path := range []string{
		"/api/v1/attendance",
		"/api/v1/attendance/rec-1/lock",
		"/api/v1/attendance/reopen-requests/reopen-1/approve",
	} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", bearer(t, models.RoleLeadership))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestRoutesAuditExportToggle(t *testing.T) {
	r := testRouter(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/attendance/rec-1/audit-trail/export", nil)
	req.Header.Set("Authorization", bearer(t, models.RoleLeadership))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
