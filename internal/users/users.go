package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VPN-Shop-bot/internal/db"
)

var Languages = []string{"en", "ru"}

type Store struct {
	db              *gorm.DB
	defaultLanguage string
}

func NewStore(gdb *gorm.DB, defaultLanguage string) *Store {
	return &Store{db: gdb, defaultLanguage: ResolveLanguage(defaultLanguage, "en")}
}

// Ensure returns the user, creating it on first contact with a language detected from the Telegram code.
func (s *Store) Ensure(ctx context.Context, telegramID int64, languageCode string) (*db.User, error) {
	u := db.User{TelegramID: telegramID, Language: DetectLanguage(languageCode, s.defaultLanguage)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "telegram_id"}}, DoNothing: true}).
		Create(&u).Error
	if err != nil {
		return nil, fmt.Errorf("ensure user %d: %w", telegramID, err)
	}
	return s.Get(ctx, telegramID)
}

func (s *Store) Get(ctx context.Context, telegramID int64) (*db.User, error) {
	var u db.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Language returns the stored language or the default when the user is unknown.
func (s *Store) Language(ctx context.Context, telegramID int64) string {
	u, err := s.Get(ctx, telegramID)
	if err != nil {
		return s.defaultLanguage
	}
	return ResolveLanguage(u.Language, s.defaultLanguage)
}

func (s *Store) SetLanguage(ctx context.Context, telegramID int64, lang string) error {
	lang = ResolveLanguage(lang, s.defaultLanguage)
	return s.db.WithContext(ctx).Model(&db.User{}).
		Where("telegram_id = ?", telegramID).
		Update("language", lang).Error
}

func (s *Store) SetLastMessage(ctx context.Context, telegramID int64, messageID int) error {
	return s.db.WithContext(ctx).Model(&db.User{}).
		Where("telegram_id = ?", telegramID).
		Update("last_message_id", messageID).Error
}

var ErrNotFound = errors.New("user not found")

func DetectLanguage(code, fallback string) string {
	if code != "" {
		base := strings.SplitN(strings.ToLower(code), "-", 2)[0]
		if supported(base) {
			return base
		}
	}
	return ResolveLanguage(fallback, "en")
}

func ResolveLanguage(lang, fallback string) string {
	if supported(lang) {
		return lang
	}
	if supported(fallback) {
		return fallback
	}
	return "en"
}

func supported(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}
