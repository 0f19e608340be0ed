package web

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"melodia/internal/apperr"
	"melodia/internal/logging"
)

const userIDKey = "user_id"

// JWTAuth accepts HS256 tokens signed with secret and stores the user_id
// claim (or sub) in the gin context.
func JWTAuth(secret string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			sendError(c, logger, apperr.New(apperr.KindConfiguration, "authentication is not configured"))
			return
		}

		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			sendError(c, logger, err)
			return
		}

		claims, err := decodeJWT(tokenString, secret)
		if err != nil {
			sendError(c, logger, apperr.Wrap(apperr.KindUnauthorized, err, "invalid or expired token"))
			return
		}

		userID := cast.ToString(claims["user_id"])
		if userID == "" {
			userID = cast.ToString(claims["sub"])
		}
		if userID == "" {
			sendError(c, logger, apperr.New(apperr.KindUnauthorized, "token has no user id"))
			return
		}

		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(logging.AppendCtx(c.Request.Context(), slog.String("userId", userID)))
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	header = strings.Trim(header, "\"' ")
	if header == "" {
		return "", apperr.New(apperr.KindUnauthorized, "authorization header missing")
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", apperr.New(apperr.KindUnauthorized, "invalid authorization format, expected: Bearer <token>")
	}
	return strings.Trim(parts[1], "\"'"), nil
}

func decodeJWT(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signature method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}
	return claims, nil
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(userID, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RequestLogger tags the request context with a requestId, logs the outcome
// and counts it by status class.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-Id", requestID)
		c.Request = c.Request.WithContext(logging.AppendCtx(c.Request.Context(), slog.String("requestId", requestID)))

		c.Next()

		status := c.Writer.Status()
		metrics.GetOrCreateCounter(fmt.Sprintf(`http_requests_total{status="%dxx"}`, status/100)).Inc()
		metrics.GetOrCreateHistogram(`http_request_duration_seconds`).UpdateDuration(start)

		logger.InfoContext(c.Request.Context(), "Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"durationMs", time.Since(start).Milliseconds())
	}
}
