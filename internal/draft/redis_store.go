package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"VPN-Shop-bot/internal/db"
)

const DefaultRedisTTL = 7 * 24 * time.Hour

// RedisStore keeps drafts as JSON values under draft:<telegram id>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func key(telegramID int64) string {
	return "draft:" + strconv.FormatInt(telegramID, 10)
}

func (s *RedisStore) GetOrCreate(ctx context.Context, telegramID int64) (*db.Draft, error) {
	raw, err := s.client.Get(ctx, key(telegramID)).Bytes()
	if errors.Is(err, redis.Nil) {
		d := &db.Draft{TelegramID: telegramID, UpdatedAt: time.Now()}
		return d, s.save(ctx, d)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get draft %d: %w", telegramID, err)
	}
	var d db.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode draft %d: %w", telegramID, err)
	}
	return &d, nil
}

func (s *RedisStore) Update(ctx context.Context, telegramID int64, p Patch) (*db.Draft, error) {
	d, err := s.GetOrCreate(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	p.apply(d)
	d.UpdatedAt = time.Now()
	return d, s.save(ctx, d)
}

func (s *RedisStore) Clear(ctx context.Context, telegramID int64) error {
	return s.client.Del(ctx, key(telegramID)).Err()
}

func (s *RedisStore) save(ctx context.Context, d *db.Draft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(d.TelegramID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set draft %d: %w", d.TelegramID, err)
	}
	return nil
}
