package db

import "time"

const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderFailed    = "failed"
	OrderCancelled = "cancelled"
)

const (
	ConnSubmitted = "submitted"
	ConnPolling   = "polling"
	ConnReady     = "ready"
	ConnFailed    = "failed"
	ConnExpired   = "expired"
)

const (
	MethodSimulation = "sbp"
	MethodStars      = "stars"
	MethodCryptoBot  = "cryptobot"
)

type User struct {
	ID            uint  `gorm:"primaryKey"`
	TelegramID    int64 `gorm:"uniqueIndex"`
	Language      string
	LastMessageID int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Draft is the in-progress selection; one row per user.
type Draft struct {
	ID            uint  `gorm:"primaryKey"`
	TelegramID    int64 `gorm:"uniqueIndex"`
	Plan          string
	Server        string
	Protocol      string
	Months        int
	Devices       int
	PaymentMethod string
	UpdatedAt     time.Time
}

type Order struct {
	ID                uint  `gorm:"primaryKey"`
	TelegramID        int64 `gorm:"index"`
	Plan              string
	Server            string
	Protocol          string
	Months            int
	Devices           int
	PaymentMethod     string
	AmountUSDCents    int64
	AmountRUB         int64
	AmountStars       int64
	Status            string `gorm:"index;default:pending"`
	FailureReason     string
	ChargeRef         *string `gorm:"uniqueIndex"`
	ExternalInvoiceID string  `gorm:"index"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
}

func (o Order) Terminal() bool {
	return o.Status != OrderPending
}

// PaymentEvent is append-only. OrderID is nil when the order could not be resolved.
type PaymentEvent struct {
	ID         uint  `gorm:"primaryKey"`
	OrderID    *uint `gorm:"index"`
	TelegramID int64
	Method     string
	EventType  string `gorm:"index"`
	Details    string
	ChargeRef  string
	CreatedAt  time.Time
}

// Connection tracks provisioning of a paid order and the config it produced.
type Connection struct {
	ID               uint  `gorm:"primaryKey"`
	TelegramID       int64 `gorm:"index"`
	OrderID          uint  `gorm:"uniqueIndex"`
	Server           string
	Protocol         string
	Devices          int
	Months           int
	TaskID           string
	Status           string `gorm:"index"`
	Config           string
	ExpiresAt        *time.Time
	LastError        string
	PollAttempts     int
	NotifiedExpiring bool `gorm:"default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConfigValue is a runtime pricing override.
type ConfigValue struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// Server caches the master node's server list.
type Server struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Country   string
	PingMS    int
	Status    string
	WhiteIP   string
	Stats     string
	UpdatedAt time.Time
}
