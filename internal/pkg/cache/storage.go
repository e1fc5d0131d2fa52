package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	fiberredis "github.com/gofiber/storage/redis"
)

// limiterDatabase keeps rate limiter counters apart from the queue (DB 0)
const limiterDatabase = 2

// NewFiberStorage returns a fiber.Storage on the same Redis server as the
// shared client, for middleware such as the limiter.
func NewFiberStorage() fiber.Storage {
	host, port := "localhost", 6379
	password := ""
	if c := GetClient(); c != nil {
		if h, p, err := net.SplitHostPort(c.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = c.Options().Password
	}
	return fiberredis.New(fiberredis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
