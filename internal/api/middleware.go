package api

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		claims, err := s.tokens.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// userID returns the authenticated user set by authMiddleware
func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

// rateLimitMiddleware enforces a per-client token bucket. Clients are keyed
// by IP; idle buckets are pruned lazily.
func (s *Server) rateLimitMiddleware(rps int) fiber.Handler {
	type bucket struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	return func(c *fiber.Ctx) error {
		ip := c.IP()

		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(rps), rps*2)}
			buckets[ip] = b
		}
		b.lastSeen = time.Now()

		if len(buckets) > 1000 {
			cutoff := time.Now().Add(-10 * time.Minute)
			for k, v := range buckets {
				if v.lastSeen.Before(cutoff) {
					delete(buckets, k)
				}
			}
		}
		mu.Unlock()

		if !b.limiter.Allow() {
			return c.Status(429).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}

// observeMiddleware records request metrics and logs errors
func (s *Server) observeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		route := c.Route().Path
		s.metrics.RecordHTTPRequest(route, fmt.Sprintf("%dxx", status/100))

		if status >= 500 {
			s.logger.Error("Request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Duration("took", time.Since(start)),
			)
		}
		return err
	}
}

// fail maps an application error to its HTTP response
func fail(c *fiber.Ctx, err error) error {
	status := 500
	message := "internal error"

	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
		switch appErr {
		case apperrors.ErrReminderNotFound, apperrors.ErrDoseNotFound,
			apperrors.ErrDeviceNotFound, apperrors.ErrNotFound,
			apperrors.ErrAlarmNotOpen:
			status = 404
		case apperrors.ErrReminderInvalid, apperrors.ErrInvalidTimeOfDay,
			apperrors.ErrTimesFrequencyMismatch, apperrors.ErrBadRequest,
			apperrors.ErrPairCodeInvalid:
			status = 400
		case apperrors.ErrAlarmNotRinging, apperrors.ErrUserExists:
			status = 409
		case apperrors.ErrUnauthorized, apperrors.ErrBadCredentials:
			status = 401
		case apperrors.ErrForbidden:
			status = 403
		case apperrors.ErrAssistantDisabled, apperrors.ErrAssistantUnavailable:
			status = 503
		}
		return c.Status(status).JSON(fiber.Map{"error": message, "code": appErr.Code})
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}
