package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin unlocks the /admin routes
const RoleAdmin = "admin"

const (
	ctxUserID = "identity.user_id"
	ctxRole   = "identity.role"
)

var errNoSecret = errors.New("identity: no signing secret configured")

// Identity verifies tokens issued by the identity service. It never issues
// tokens itself.
type Identity struct {
	secret []byte
	parser *jwt.Parser
}

// NewIdentity creates a verifier for HMAC-signed tokens
func NewIdentity(secret string) *Identity {
	return &Identity{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Principal is the authenticated caller
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// Verify parses a raw token into the caller it identifies
func (i *Identity) Verify(raw string) (*Principal, error) {
	if len(i.secret) == 0 {
		return nil, errNoSecret
	}

	claims := jwt.MapClaims{}
	if _, err := i.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}); err != nil {
		return nil, err
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, errors.New("identity: subject is not a user id")
	}

	role, _ := claims["role"].(string)
	return &Principal{UserID: userID, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token with 401
func (i *Identity) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		principal, err := i.Verify(raw)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		c.Set(ctxUserID, principal.UserID)
		c.Set(ctxRole, principal.Role)
		c.Next()
	}
}

// RequireRole rejects authenticated callers without role with 403
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "requires role " + role,
			})
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}

// userID is only valid behind Identity.Middleware
func userID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ctxUserID)
	if uid, ok := id.(uuid.UUID); ok {
		return uid
	}
	return uuid.Nil
}
