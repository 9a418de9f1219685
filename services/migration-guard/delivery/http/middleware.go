package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/logging"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

const (
	executionContextKey = "execution_context"
	correlationHeader   = "X-Correlation-ID"
)

// Claims are the bearer token claims mapped onto an ExecutionContext
type Claims struct {
	TenantID string `json:"tenant_id,omitempty"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator. An empty issuer accepts any.
func NewAuthenticator(secret, issuer string, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger,
	}
}

// Parse validates tokenString and returns the execution context it grants
func (a *Authenticator) Parse(tokenString string) (entity.ExecutionContext, error) {
	if len(a.secret) == 0 {
		return entity.ExecutionContext{}, errors.New("JWT secret key not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return entity.ExecutionContext{}, fmt.Errorf("invalid JWT token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return entity.ExecutionContext{}, errors.New("invalid JWT claims")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return entity.ExecutionContext{}, errors.New("token has no subject")
	}

	return entity.ExecutionContext{
		Actor:    claims.Subject,
		TenantID: claims.TenantID,
		IsAdmin:  claims.Admin,
	}, nil
}

// Sign issues a token for ec that expires after ttl
func (a *Authenticator) Sign(ec entity.ExecutionContext, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: ec.TenantID,
		Admin:    ec.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ec.Actor,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// execution context for the handlers
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		ec, err := a.Parse(tokenString)
		if err != nil {
			a.logger.Warn("Rejected admin API token",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ec.CorrelationID = logging.GetCorrelationID(c.Request.Context())
		ctx := logging.WithActor(c.Request.Context(), ec.Actor)
		if ec.TenantID != "" {
			ctx = logging.WithTenantID(ctx, ec.TenantID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(executionContextKey, ec)
		c.Next()
	}
}

// executionContext returns the context stored by the auth middleware
func executionContext(c *gin.Context) entity.ExecutionContext {
	if v, ok := c.Get(executionContextKey); ok {
		if ec, ok := v.(entity.ExecutionContext); ok {
			return ec
		}
	}
	return entity.ExecutionContext{}
}

// correlationMiddleware propagates or mints the correlation id
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(correlationHeader); id != "" {
			ctx = logging.WithCorrelationID(ctx, id)
		}
		ctx, id := logging.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

// loggingMiddleware logs every request once it completes
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		reqLogger := logging.WithContext(c.Request.Context(), logger)
		if c.Writer.Status() >= http.StatusInternalServerError {
			reqLogger.Error("HTTP request failed", fields...)
			return
		}
		reqLogger.Debug("HTTP request", fields...)
	}
}
