package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the caller's *AuthResult.
const ResultKey = "auth_result"

// Middleware provides authentication middleware for HTTP handlers. A nil
// service disables every check.
type Middleware struct {
	svc *Service
}

func NewMiddleware(svc *Service) *Middleware {
	return &Middleware{svc: svc}
}

// Enabled reports whether requests are authenticated.
func (m *Middleware) Enabled() bool { return m != nil && m.svc != nil }

// GinAuth rejects requests without valid credentials with 401.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		res, err := m.authenticate(c.Request)
		if err != nil || !res.Success {
			c.Header("WWW-Authenticate", `Bearer realm="devrun"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// GinRequirePermission aborts with 403 unless the authenticated caller may
// perform action. It must run after GinAuth.
func (m *Middleware) GinRequirePermission(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		v, ok := c.Get(ResultKey)
		res, _ := v.(*AuthResult)
		if !ok || res == nil || !HasPermission(res.Roles, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}

// Login exchanges basic credentials (header or JSON body) for a token.
func (m *Middleware) Login(c *gin.Context) {
	if !m.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}
	req := LoginRequest{Method: AuthMethodBasic}
	if u, p, ok := c.Request.BasicAuth(); ok {
		req.Username, req.Password = u, p
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	req.Method = AuthMethodBasic
	res, err := m.svc.Authenticate(c.Request.Context(), req)
	if err != nil || !res.Success {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Error()})
		return
	}
	c.JSON(http.StatusOK, res.Token)
}

// authenticate accepts a bearer token or basic credentials.
func (m *Middleware) authenticate(r *http.Request) (*AuthResult, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return m.svc.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: strings.TrimSpace(parts[1])})
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return m.svc.Authenticate(r.Context(), LoginRequest{Method: AuthMethodBasic, Username: username, Password: password})
	}
	// EventSource cannot set headers
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return m.svc.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: tok})
	}
	return &AuthResult{Success: false}, ErrInvalidCredentials
}
