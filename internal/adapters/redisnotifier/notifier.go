package redisnotifier

import (
	"context"
	"fmt"
	"time"

	"trendBot/internal/ports"

	"github.com/redis/go-redis/v9"
)

// publisher is the subset of *redis.Client the notifier uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Notifier implements ports.Notifier with Redis PUBLISH.
type Notifier struct {
	client publisher
	closer func() error
	logger ports.Logger
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Logger   ports.Logger
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Redis notifier")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required: %w", ports.ErrConfigurationError)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w: %w", cfg.Addr, ports.ErrConnectionFailed, err)
	}
	cfg.Logger.Info(ctx, "Redis notifier connected", map[string]interface{}{"addr": cfg.Addr, "db": cfg.DB})

	return &Notifier{client: client, closer: client.Close, logger: cfg.Logger}, nil
}

// Publish sends message on topic. Having no subscribers is not an error.
func (n *Notifier) Publish(ctx context.Context, topic, message string) error {
	receivers, err := n.client.Publish(ctx, topic, message).Result()
	if err != nil {
		return fmt.Errorf("publish to %s failed: %w: %w", topic, ports.ErrNotificationFailed, err)
	}
	n.logger.Debug(ctx, "Notification published", map[string]interface{}{"topic": topic, "receivers": receivers})
	return nil
}

// Close releases the Redis connection pool.
func (n *Notifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

// LogNotifier implements ports.Notifier by logging notifications. It is used when Redis is not configured.
type LogNotifier struct {
	Logger ports.Logger
}

// Publish logs the notification and never fails.
func (l LogNotifier) Publish(ctx context.Context, topic, message string) error {
	l.Logger.Info(ctx, "Notification", map[string]interface{}{"topic": topic, "message": message})
	return nil
}
