package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/pkg/config"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	// Headers honored when authentication is disabled.
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"

	DefaultOrganizationID = "default"
	DefaultUserID         = "anonymous"
)

// Middleware handles bearer token authentication for protected routes
type Middleware struct {
	enabled bool
	tokens  *TokenStore
}

// NewMiddleware creates the middleware from the server auth configuration.
func NewMiddleware(cfg *config.AuthConfig) (*Middleware, error) {
	if cfg == nil || !cfg.Enabled {
		return &Middleware{}, nil
	}
	tokens, err := ParseTokens(cfg.Tokens)
	if err != nil {
		return nil, err
	}
	if tokens.Len() == 0 {
		return nil, errors.New("auth is enabled but no tokens are configured")
	}
	return &Middleware{enabled: true, tokens: tokens}, nil
}

// Authenticate is the Gin middleware handler for bearer token authentication
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), headerIdentity(c)))
			c.Next()
			return
		}
		log := logger.FromContext(c.Request.Context())
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug("Missing Authorization header")
			sendUnauthorized(c, "Missing Authorization header")
			return
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			log.Debug("Invalid Authorization header format")
			sendUnauthorized(c, "Invalid Authorization header format. Expected: Bearer <token>")
			return
		}
		id, err := m.tokens.Lookup(strings.TrimSpace(token))
		if err != nil {
			log.Debug("Bearer token rejected")
			sendUnauthorized(c, "Invalid token")
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		log.Debug("Request authenticated", "org_id", id.OrganizationID, "user_id", id.UserID)
		c.Next()
	}
}

func headerIdentity(c *gin.Context) Identity {
	id := Identity{
		OrganizationID: strings.TrimSpace(c.GetHeader(HeaderOrganizationID)),
		UserID:         strings.TrimSpace(c.GetHeader(HeaderUserID)),
	}
	if id.OrganizationID == "" {
		id.OrganizationID = DefaultOrganizationID
	}
	if id.UserID == "" {
		id.UserID = DefaultUserID
	}
	return id
}

func sendUnauthorized(c *gin.Context, detail string) {
	problem := core.NewProblem(http.StatusUnauthorized, "UNAUTHORIZED", detail)
	problem.Instance = c.Request.URL.Path
	c.Header("WWW-Authenticate", `Bearer realm="taskdeck"`)
	c.Header("Content-Type", core.ProblemContentType)
	c.AbortWithStatusJSON(problem.Status, problem)
}
