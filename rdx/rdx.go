package rdx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var Conn *redis.Client

// Connect opens the shared Redis client and checks it answers.
func Connect(ctx context.Context, addr, password string) error {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return fmt.Errorf("ping Redis at %s: %w", addr, err)
	}
	Conn = c
	return nil
}

func Close() {
	if Conn != nil {
		_ = Conn.Close()
	}
}
