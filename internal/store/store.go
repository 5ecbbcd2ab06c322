// Package store implements the order ledger on sqlite: an orders table with
// upsert-by-id semantics, an append-only event log, and the persisted policy
// snapshot.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"strike/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	models := []interface{}{
		&model.OrderModel{},
		&model.EventModel{},
		&model.PolicySnapshotModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveOrder inserts or fully updates an order keyed by its opaque order id.
func (s *Store) SaveOrder(ctx context.Context, ord *model.OrderModel) error {
	if ord == nil {
		return errors.New("order cannot be nil")
	}
	ord.UpdatedAtUnix = time.Now().Unix()
	if ord.CreatedAtUnix == 0 {
		ord.CreatedAtUnix = ord.UpdatedAtUnix
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Save(ord).Error
}

// GetOrder returns (nil, nil) when the id is unknown.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*model.OrderModel, error) {
	var ord model.OrderModel
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&ord).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ord, nil
}

func (s *Store) ListOrdersByStatus(ctx context.Context, statuses []string, limit int) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	q := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	if limit <= 0 {
		limit = 100
	}
	if err := s.db.WithContext(ctx).
		Order("COALESCE(updated_at, created_at) DESC, id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// LogEvent appends one event to the audit log. Payload is marshalled to JSON;
// marshal failures degrade to a string payload rather than dropping the event.
func (s *Store) LogEvent(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", payload))
	}
	rec := model.EventModel{
		Name:      name,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]model.EventModel, error) {
	var events []model.EventModel
	if limit <= 0 {
		limit = 100
	}
	if err := s.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// SavePolicySnapshot overwrites the single policy snapshot row.
func (s *Store) SavePolicySnapshot(ctx context.Context, policyJSON []byte) error {
	rec := model.PolicySnapshotModel{
		ID:            1,
		PolicyJSON:    policyJSON,
		UpdatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Save(&rec).Error
}

// LoadPolicySnapshot returns (nil, nil) when no snapshot has been persisted.
func (s *Store) LoadPolicySnapshot(ctx context.Context) ([]byte, error) {
	var rec model.PolicySnapshotModel
	err := s.db.WithContext(ctx).Where("id = ?", 1).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.PolicyJSON, nil
}
