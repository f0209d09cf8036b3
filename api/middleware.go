package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/authkit/authkit/internal/auth"
	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/metrics"
)

const contextClaimsKey = "auth_claims"

// claimsFrom returns the access token claims set by requireAuth, or nil
// when the request is unauthenticated.
func claimsFrom(c *gin.Context) *auth.Claims {
	value, ok := c.Get(contextClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*auth.Claims)
	return claims
}

// requireAuth validates the bearer token and the session it is bound to,
// then stores the claims on the request context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			s.abortWithError(c, apierrors.Unauthorized("missing authorization header"))
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.abortWithError(c, apierrors.Unauthorized("malformed authorization header"))
			return
		}

		claims, err := s.tokens.ValidateAccessToken(token)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		// A valid JWT is not enough: the session it was issued for must
		// still be alive, so logout and remote revocation cut access
		// before the token expires.
		if err := s.sessions.ValidateID(c.Request.Context(), claims.SessionID); err != nil {
			s.abortWithError(c, err)
			return
		}

		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// requireRole enforces a minimum role on top of requireAuth. The roles
// in the token usually decide; a database check covers accounts that
// carry only the legacy admin flag.
func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil {
			s.abortWithError(c, apierrors.Unauthorized("authentication required"))
			return
		}

		if auth.RoleSatisfies(claims.Roles, role) {
			c.Next()
			return
		}

		ok, err := s.rbac.HasRole(c.Request.Context(), claims.UserID, role)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		if !ok {
			s.abortWithError(c, apierrors.Forbidden(fmt.Sprintf("requires the %s role", role)))
			return
		}
		c.Next()
	}
}

// rateLimit enforces the configured rule for an endpoint class, keyed by
// user ID when authenticated and by client IP otherwise. A limiter
// backend failure lets the request through so Redis outages degrade to
// unlimited rather than unavailable.
func (s *Server) rateLimit(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.RateLimit.Enabled {
			c.Next()
			return
		}

		rule := s.cfg.RateLimit.Rule(class)
		if rule.Limit <= 0 {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if claims := claimsFrom(c); claims != nil {
			key = "user:" + claims.UserID.String()
		}

		allowed, retryAfter, err := s.limiter.Allow(c.Request.Context(), class+":"+key, rule.Limit, rule.Window)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request",
				zap.String("class", class),
				zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			metrics.RateLimitRejections.WithLabelValues(class).Inc()
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			s.abortWithError(c, apierrors.RateLimited("rate limit exceeded, slow down"))
			return
		}

		c.Next()
	}
}

// securityHeaders sets the baseline browser protections on every response.
func (s *Server) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// metricsMiddleware records request counts, latencies and in-flight gauge
// per route template.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPRequestsInFlight.Inc()

		c.Next()

		metrics.HTTPRequestsInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// abortWithError writes the API error shape and stops the chain. Server
// faults get logged with their cause; client errors do not.
func (s *Server) abortWithError(c *gin.Context, err error) {
	apiErr := apierrors.FromError(err)
	if apiErr.StatusCode() >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(apiErr.StatusCode(), gin.H{"error": apiErr})
}
