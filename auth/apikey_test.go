package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-llm-gateway/config"
)

func guardedRouter(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	router.Use(NewGuard(cfg, logger).Middleware())
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "client_id": c.GetString("client_id")})
	})
	return router
}

func doGet(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGuardOpenWithoutCredentials(t *testing.T) {
	router := guardedRouter(config.AuthConfig{})

	rec := doGet(router, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardAPIKeys(t *testing.T) {
	router := guardedRouter(config.AuthConfig{APIKeys: []string{"sk-router-one", "sk-router-two"}})

	t.Run("missing key", func(t *testing.T) {
		rec := doGet(router, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing_api_key")
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := doGet(router, map[string]string{"X-API-Key": "sk-wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_api_key")
	})

	t.Run("x-api-key header", func(t *testing.T) {
		rec := doGet(router, map[string]string{"X-API-Key": "sk-router-one"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		rec := doGet(router, map[string]string{"Authorization": "Bearer sk-router-two"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("raw authorization value", func(t *testing.T) {
		rec := doGet(router, map[string]string{"Authorization": "sk-router-one"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGuardJWT(t *testing.T) {
	secret := "router-hmac-secret"
	router := guardedRouter(config.AuthConfig{JWTSecret: secret})

	sign := func(t *testing.T, secret string, expiresAt time.Time) string {
		t.Helper()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "cli-client",
				ExpiresAt: jwt.NewNumericDate(expiresAt),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}

	t.Run("valid token", func(t *testing.T) {
		rec := doGet(router, map[string]string{"Authorization": "Bearer " + sign(t, secret, time.Now().Add(time.Hour))})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "cli-client")
	})

	t.Run("expired token", func(t *testing.T) {
		rec := doGet(router, map[string]string{"Authorization": "Bearer " + sign(t, secret, time.Now().Add(-time.Hour))})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := doGet(router, map[string]string{"Authorization": "Bearer " + sign(t, "other-secret", time.Now().Add(time.Hour))})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGuardKeysAndTokensCoexist(t *testing.T) {
	router := guardedRouter(config.AuthConfig{APIKeys: []string{"sk-static"}, JWTSecret: "secret"})

	rec := doGet(router, map[string]string{"X-API-Key": "sk-static"})
	assert.Equal(t, http.StatusOK, rec.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "svc",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	rec = doGet(router, map[string]string{"Authorization": "Bearer " + signed})
	assert.Equal(t, http.StatusOK, rec.Code)
}
