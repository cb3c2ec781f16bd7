package draft

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/db/dbtest"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func stores(t *testing.T) map[string]Store {
	client, _ := setupRedis(t)
	return map[string]Store{
		"gorm":  NewGormStore(dbtest.New(t)),
		"redis": NewRedisStore(client, 0),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			d, err := s.GetOrCreate(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, int64(7), d.TelegramID)
			assert.Empty(t, d.Plan)

			_, err = s.Update(ctx, 7, Patch{Plan: Str("standard"), Months: Int(3)})
			require.NoError(t, err)
			d, err = s.Update(ctx, 7, Patch{PaymentMethod: Str(db.MethodStars)})
			require.NoError(t, err)
			assert.Equal(t, "standard", d.Plan)
			assert.Equal(t, 3, d.Months)
			assert.Equal(t, db.MethodStars, d.PaymentMethod)

			// last writer wins
			d, err = s.Update(ctx, 7, Patch{Months: Int(12)})
			require.NoError(t, err)
			assert.Equal(t, 12, d.Months)

			require.NoError(t, s.Clear(ctx, 7))
			d, err = s.GetOrCreate(ctx, 7)
			require.NoError(t, err)
			assert.Empty(t, d.Plan)
			assert.Zero(t, d.Months)
		})
	}
}

func TestGormStoreKeepsOneDraftPerUser(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	s := NewGormStore(gdb)

	for i := 0; i < 5; i++ {
		_, err := s.Update(ctx, 1, Patch{Months: Int(i + 1)})
		require.NoError(t, err)
		_, err = s.GetOrCreate(ctx, 1)
		require.NoError(t, err)
	}
	_, err := s.GetOrCreate(ctx, 2)
	require.NoError(t, err)

	var n int64
	require.NoError(t, gdb.Model(&db.Draft{}).Where("telegram_id = ?", 1).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestRedisStoreSetsTTL(t *testing.T) {
	client, mr := setupRedis(t)
	s := NewRedisStore(client, 0)

	_, err := s.Update(context.Background(), 9, Patch{Server: Str("fi")})
	require.NoError(t, err)
	assert.True(t, mr.Exists("draft:9"))
	assert.Equal(t, DefaultRedisTTL, mr.TTL("draft:9"))
}
