package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const localUserID = "user_id"

// JWTAuth validates the bearer token issued by the identity collaborator
// and stashes the numeric user id for the handlers.
func JWTAuth(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if auth == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization"})
		}
		uid, err := parseToken(parts[1], key)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(localUserID, uid)
		return c.Next()
	}
}

func parseToken(tokenStr string, key []byte) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("unexpected claims type")
	}
	switch sub := claims["sub"].(type) {
	case string:
		return strconv.ParseInt(sub, 10, 64)
	case float64:
		return int64(sub), nil
	default:
		return 0, fmt.Errorf("missing sub claim")
	}
}

func userID(c *fiber.Ctx) int64 {
	uid, _ := c.Locals(localUserID).(int64)
	return uid
}

// RateLimiter throttles per caller using a counter in Redis.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: r, prefix: prefix, limit: limit, window: window}
}

func (r *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if r == nil || r.redis == nil || r.limit <= 0 {
			return c.Next()
		}
		key := fmt.Sprintf("%s:%d", r.prefix, userID(c))
		if uid := userID(c); uid == 0 {
			key = r.prefix + ":" + c.IP()
		}
		ctx := context.Background()
		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			// limiter outage must not take requests down with it
			return c.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, r.window)
		}
		if count > int64(r.limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
