package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const requestTimeout = 20 * time.Second

// errorResponse writes the JSON error envelope shared by all API handlers.
func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// requestContext bounds the work done for one request.
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// uintParam parses a positive numeric route parameter.
func uintParam(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// requestHeaders copies the fasthttp request headers into a net/http header
// map with canonical keys, which is what the gateway verifiers read.
func requestHeaders(c *fiber.Ctx) http.Header {
	headers := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	return headers
}

// GetClientIP determines the caller's address considering Cloudflare and
// reverse proxies.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	// X-Forwarded-For can contain a list of IPs - the first one is the original client IP
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
