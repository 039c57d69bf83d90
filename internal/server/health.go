package server

import (
	"context"
	"fmt"

	"activation-orchestrator/internal/common/database"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// StoreHealthService verifies the session store and the optional journal database.
type StoreHealthService struct {
	Redis    *database.RedisClient
	Postgres *database.PostgresClient
}

// Probe implements the HealthService interface.
func (s StoreHealthService) Probe(ctx context.Context) error {
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}
