// Package redismirror copies run snapshots into redis so other replicas and
// external consumers can read progress without touching the primary store.
package redismirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

const (
	// DefaultPrefix is prepended to run ids when Config.Prefix is empty.
	DefaultPrefix = "llm-verdict:run:"
	// DefaultTTL is how long a mirrored snapshot lives when Config.TTL is unset.
	DefaultTTL = 24 * time.Hour
)

// Config controls where and for how long snapshots are mirrored.
type Config struct {
	// Prefix is prepended to the run id to form the key.
	Prefix string
	TTL    time.Duration
	// Channel, when set, also receives every snapshot via PUBLISH.
	Channel string
}

// Mirror is a status sink and loader backed by redis string keys.
type Mirror struct {
	client redis.UniversalClient
	config Config
}

// NewClient parses url (redis://...) into a client.
func NewClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// CheckConnection pings the server with a short timeout.
func CheckConnection(ctx context.Context, client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	return nil
}

// New creates a Mirror on client, filling unset Config fields with defaults.
func New(client redis.UniversalClient, config Config) *Mirror {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Mirror{client: client, config: config}
}

func (m *Mirror) key(runID string) string {
	return m.config.Prefix + runID
}

// Mirror writes snap under its run key.
func (m *Mirror) Mirror(ctx context.Context, snap testrun.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key(snap.RunID), data, m.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror snapshot %s: %w", snap.RunID, err)
	}
	if m.config.Channel != "" {
		if err := m.client.Publish(ctx, m.config.Channel, data).Err(); err != nil {
			return fmt.Errorf("failed to publish snapshot %s: %w", snap.RunID, err)
		}
	}
	return nil
}

// LoadSnapshot reads a mirrored snapshot. A missing key reports store.ErrNotFound.
func (m *Mirror) LoadSnapshot(ctx context.Context, runID string) (testrun.Snapshot, error) {
	data, err := m.client.Get(ctx, m.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return testrun.Snapshot{}, fmt.Errorf("%w: %s not mirrored", store.ErrNotFound, runID)
	}
	if err != nil {
		return testrun.Snapshot{}, fmt.Errorf("failed to read mirrored snapshot: %w", err)
	}
	var snap testrun.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return testrun.Snapshot{}, fmt.Errorf("failed to decode mirrored snapshot: %w", err)
	}
	return snap, nil
}
