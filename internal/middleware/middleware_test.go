package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	"github.com/noah-isme/sma-attendance-api/pkg/config"
	"github.com/noah-isme/sma-attendance-api/pkg/middleware/requestid"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(role models.UserRole) models.JWTClaims {
	return models.JWTClaims{
		UserID: "teacher-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sma-identity",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func protectedRouter(roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	verifier := NewTokenVerifier(config.JWTConfig{Secret: testSecret, Issuer: "sma-identity"})
	router := gin.New()
	router.GET("/attendance", JWT(verifier), RequireRoles(roles...), func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})
	return router
}

func TestJWTAcceptsValidToken(t *testing.T) {
	router := protectedRouter(models.RoleTeacher)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleTeacher))

	req := httptest.NewRequest(http.MethodGet, "/attendance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "teacher-1", rec.Body.String())
}

func TestJWTRejectsBadTokens(t *testing.T) {
	router := protectedRouter(models.RoleTeacher)

	expired := validClaims(models.RoleTeacher)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims(models.RoleTeacher)
	wrongIssuer.Issuer = "someone-else"
	unknownRole := validClaims("JANITOR")

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"bad signature":  "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims(models.RoleTeacher)),
		"expired":        "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong issuer":   "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer),
		"unknown role":   "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), unknownRole),
		"wrong method":   "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(models.RoleTeacher)),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/attendance", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	router := protectedRouter(models.RoleAcademicCoordinator)
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleLeadership))

	req := httptest.NewRequest(http.MethodGet, "/attendance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body struct {
		Error struct {
			Code   string            `json:"code"`
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
	assert.Equal(t, "LEADERSHIP", body.Error.Fields["role"])
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RequireRoles(models.RoleTeacher), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditContextCapturesRequestMetadata(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestid.Middleware(), AuditContext())
	var captured string
	router.GET("/", func(c *gin.Context) {
		captured = AuditContextInfo(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("User-Agent", "attendance-test")
	router.ServeHTTP(httptest.NewRecorder(), req)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(captured), &info))
	assert.Equal(t, "req-42", info["requestId"])
	assert.Equal(t, "attendance-test", info["userAgent"])
	assert.NotEmpty(t, info["ipAddress"])
	assert.Equal(t, "", AuditContextInfo(nil))
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var meta map[string]interface{}
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetMeta(c, "count", 3)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 3, meta["count"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestMetricsMiddlewareUsesRouteTemplates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics, "/metrics"))
	router.GET("/attendance/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/attendance/a", "/attendance/b", "/nope", "/metrics"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var total float64
	paths := make(map[string]bool)
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
			for _, label := range m.GetLabel() {
				if label.GetName() == "path" {
					paths[label.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, float64(3), total)
	assert.Equal(t, map[string]bool{"/attendance/:id": true, "unmatched": true}, paths)
}
