package router

import (
	"net"
	"strconv"

	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/CobroFox/internal/pkg/cache"
)

// limiterDatabase keeps rate limit counters apart from the queue and usage keys.
const limiterDatabase = 3

// NewLimiterStorage returns a Redis backed fiber.Storage for the API limiter,
// reusing the address and credentials of the shared cache client.
func NewLimiterStorage() *redisstorage.Storage {
	cacheOpts := cache.GetClient().Options()
	host, port := "127.0.0.1", 6379
	if cacheOpts != nil && cacheOpts.Addr != "" {
		if h, p, err := net.SplitHostPort(cacheOpts.Addr); err == nil {
			host = h
			if parsed, e := strconv.Atoi(p); e == nil {
				port = parsed
			}
		} else {
			host = cacheOpts.Addr
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Username: cacheOpts.Username,
		Password: cacheOpts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
