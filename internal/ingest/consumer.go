package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"

	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

const (
	popTimeout   = 5 * time.Second
	errorBackoff = 2 * time.Second
)

// ErrConsumerRunning is returned when another consumer instance already
// holds the queue lock.
var ErrConsumerRunning = errors.New("ingest: another consumer holds the lock")

// KeyLister exposes the recorded key/session mappings, implemented by
// session.KeyMap.
type KeyLister interface {
	All(ctx context.Context) (map[string]session.Mapping, error)
}

// ResourceSaver persists classified resources, implemented by
// ResourceStore.
type ResourceSaver interface {
	Save(ctx context.Context, res Resource) error
}

// Consumer drains the provisioning result queue one message at a time.
// A file lock keeps deployments from accidentally running two consumers
// against the same queue.
type Consumer struct {
	rdb    *redis.Client
	queue  string
	keys   KeyLister
	store  ResourceSaver
	lock   *flock.Flock
	logger *slog.Logger
}

// NewConsumer creates a Consumer. lockPath may be empty to skip the
// single-instance guard.
func NewConsumer(rdb *redis.Client, queue string, keys KeyLister, store ResourceSaver, lockPath string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		rdb:    rdb,
		queue:  queue,
		keys:   keys,
		store:  store,
		logger: logger,
	}
	if lockPath != "" {
		c.lock = flock.New(lockPath)
	}
	return c
}

// Run blocks consuming messages until ctx is canceled. Message-level
// failures are logged and skipped; the message is not requeued.
func (c *Consumer) Run(ctx context.Context) error {
	if c.lock != nil {
		locked, err := c.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring consumer lock: %w", err)
		}
		if !locked {
			return ErrConsumerRunning
		}
		defer c.lock.Unlock()
	}

	c.logger.Info("consumer started", "queue", c.queue)
	for {
		if ctx.Err() != nil {
			return nil
		}

		values, err := c.rdb.BLPop(ctx, popTimeout, c.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("popping result message failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
			continue
		}

		if err := c.process(ctx, values[1]); err != nil {
			c.logger.Error("processing result message failed", "error", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, message string) error {
	mappings, err := c.keys.All(ctx)
	if err != nil {
		return fmt.Errorf("loading key mappings: %w", err)
	}
	if len(mappings) == 0 {
		c.logger.Warn("no key mappings recorded, dropping message")
		return nil
	}

	resources, err := ParseOutput(message, mappings)
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		c.logger.Info("no matching resources in message")
		return nil
	}

	for _, res := range resources {
		if err := c.store.Save(ctx, res); err != nil {
			return err
		}
	}
	c.logger.Info("processed result message", "resources", len(resources))
	return nil
}
