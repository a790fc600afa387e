package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/config"
	"github.com/tas-llm-gateway/models"
)

// Claims are the accepted JWT token claims. Only HMAC-signed tokens minted
// with the gateway's own secret are valid; there is no external identity
// provider.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Guard authenticates requests against the configured static API keys, with
// HMAC JWT as an alternative credential when a secret is set. With neither
// keys nor a secret configured the gateway runs open, which matches a
// single-operator deployment bound to localhost.
type Guard struct {
	keys      map[string]struct{}
	jwtSecret []byte
	logger    *logrus.Logger
}

// NewGuard creates a new request guard from the auth configuration.
func NewGuard(cfg config.AuthConfig, logger *logrus.Logger) *Guard {
	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	return &Guard{
		keys:      keys,
		jwtSecret: []byte(cfg.JWTSecret),
		logger:    logger,
	}
}

// Open reports whether no credentials are configured at all.
func (g *Guard) Open() bool {
	return len(g.keys) == 0 && len(g.jwtSecret) == 0
}

// Middleware enforces authentication on the routes it is attached to.
// Accepted credential forms: X-API-Key header, "Bearer <key>" in
// Authorization, or the raw Authorization value.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.Open() {
			c.Next()
			return
		}

		credential := extractCredential(c)
		if credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				models.NewErrorResponse("Unauthorized: missing API key", "authentication_error", "missing_api_key"))
			return
		}

		if _, ok := g.keys[credential]; ok {
			c.Next()
			return
		}

		if len(g.jwtSecret) > 0 {
			claims, err := g.validateToken(credential)
			if err == nil {
				c.Set("client_id", claims.Subject)
				c.Next()
				return
			}
			g.logger.WithError(err).Debug("token validation failed")
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized,
			models.NewErrorResponse("Unauthorized: invalid API key", "authentication_error", "invalid_api_key"))
	}
}

// extractCredential pulls the client credential from the request headers,
// most specific form first.
func extractCredential(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	header := c.GetHeader("Authorization")
	if after, found := strings.CutPrefix(header, "Bearer "); found {
		return after
	}
	return header
}

// validateToken parses and validates an HMAC-signed token string.
func (g *Guard) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
