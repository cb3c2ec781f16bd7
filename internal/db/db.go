package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open connects to Postgres without touching the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// InitDB opens the shared connection and stops the process if it fails.
func InitDB(dsn string) {
	db, err := Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	DB = db
}

// Migrate creates or updates every table. Run by `vpnshop migrate`; the bot assumes the schema exists.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Draft{}, &Order{}, &PaymentEvent{}, &Connection{}, &ConfigValue{}, &Server{})
}

// --- Admin statistics ---

type Stats struct {
	Users           int64
	OrdersByStatus  map[string]int64
	PaidUSDCents    int64
	ActiveConns     int64
	ConnsInProgress int64
}

func CollectStats(db *gorm.DB, from, to time.Time) (Stats, error) {
	st := Stats{OrdersByStatus: map[string]int64{}}
	if err := db.Model(&User{}).Count(&st.Users).Error; err != nil {
		return st, err
	}

	var rows []struct {
		Status string
		N      int64
	}
	if err := db.Model(&Order{}).Select("status, count(*) as n").Group("status").Scan(&rows).Error; err != nil {
		return st, err
	}
	for _, r := range rows {
		st.OrdersByStatus[r.Status] = r.N
	}

	if err := db.Model(&Order{}).
		Where("status = ? AND paid_at >= ? AND paid_at <= ?", OrderPaid, from, to).
		Select("coalesce(sum(amount_usd_cents), 0)").Scan(&st.PaidUSDCents).Error; err != nil {
		return st, err
	}
	if err := db.Model(&Connection{}).Where("status = ?", ConnReady).Count(&st.ActiveConns).Error; err != nil {
		return st, err
	}
	err := db.Model(&Connection{}).Where("status IN ?", []string{ConnSubmitted, ConnPolling}).Count(&st.ConnsInProgress).Error
	return st, err
}

func ListServers(db *gorm.DB) ([]Server, error) {
	var servers []Server
	err := db.Order("country, id").Find(&servers).Error
	return servers, err
}
