package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VPN-Shop-bot/internal/db/dbtest"
)

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		code, fallback, want string
	}{
		{"ru-RU", "en", "ru"},
		{"RU", "en", "ru"},
		{"de", "en", "en"},
		{"", "ru", "ru"},
		{"", "xx", "en"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DetectLanguage(c.code, c.fallback), "code=%q fallback=%q", c.code, c.fallback)
	}
}

func TestEnsureDetectsLanguageOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore(dbtest.New(t), "en")

	u, err := s.Ensure(ctx, 10, "ru")
	require.NoError(t, err)
	assert.Equal(t, "ru", u.Language)

	require.NoError(t, s.SetLanguage(ctx, 10, "en"))

	u, err = s.Ensure(ctx, 10, "ru")
	require.NoError(t, err)
	assert.Equal(t, "en", u.Language, "second contact must not re-detect")
}

func TestSetLastMessage(t *testing.T) {
	ctx := context.Background()
	s := NewStore(dbtest.New(t), "en")

	_, err := s.Ensure(ctx, 5, "")
	require.NoError(t, err)
	require.NoError(t, s.SetLastMessage(ctx, 5, 321))

	u, err := s.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 321, u.LastMessageID)

	_, err = s.Get(ctx, 6)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "en", s.Language(ctx, 6))
}
