// Package cache provides a Redis-backed read-through cache for computed
// availability, keyed by doctor and date. Booking mutations invalidate the
// affected key so stale slot lists are never served after a write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
)

const slotTTL = 5 * time.Minute

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type SlotCache struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewSlotCache(client *redis.Client, log zerolog.Logger) *SlotCache {
	return &SlotCache{client: client, log: log}
}

func slotKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("slots:%s:%s", doctorID, date.Format(scheduling.DateFormat))
}

func (s *SlotCache) Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]scheduling.TimeSlot, error) {
	data, err := s.client.Get(ctx, slotKey(doctorID, date)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var slots []scheduling.TimeSlot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, nil
}

func (s *SlotCache) Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []scheduling.TimeSlot) {
	data, err := json.Marshal(slots)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode slots for cache")
		return
	}
	if err := s.client.Set(ctx, slotKey(doctorID, date), data, slotTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("cache slots")
	}
}

// InvalidateSlots satisfies scheduling.SlotCacheInvalidator. Failures are
// logged and swallowed; the TTL bounds staleness if Redis is unreachable.
func (s *SlotCache) InvalidateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if err := s.client.Del(ctx, slotKey(doctorID, date)).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("doctor_id", doctorID.String()).
			Str("date", date.Format(scheduling.DateFormat)).
			Msg("invalidate cached slots")
	}
}
