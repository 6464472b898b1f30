package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RiskStateStore implements domain.RiskStateStore as a single JSON value at
// "risk:posture". The value has no expiry.
type RiskStateStore struct {
	c *Client
}

// NewRiskStateStore creates a RiskStateStore backed by the given Client.
func NewRiskStateStore(c *Client) *RiskStateStore {
	return &RiskStateStore{c: c}
}

// SavePosture overwrites the stored posture.
func (s *RiskStateStore) SavePosture(ctx context.Context, p domain.RiskPosture) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal posture: %w", err)
	}
	if err := s.c.rdb.Set(ctx, s.c.Key("risk", "posture"), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: save posture: %w", err)
	}
	return nil
}

// LoadPosture returns the stored posture or domain.ErrNotFound.
func (s *RiskStateStore) LoadPosture(ctx context.Context) (domain.RiskPosture, error) {
	data, err := s.c.rdb.Get(ctx, s.c.Key("risk", "posture")).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RiskPosture{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RiskPosture{}, fmt.Errorf("redis: load posture: %w", err)
	}
	var p domain.RiskPosture
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.RiskPosture{}, fmt.Errorf("redis: decode posture: %w", err)
	}
	return p, nil
}

var _ domain.RiskStateStore = (*RiskStateStore)(nil)
