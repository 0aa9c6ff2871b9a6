package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tariel-x/livedesk/internal/models"
)

// SQLite persists records in the gorm "records" table. Every write bumps the
// row version.
type SQLite struct {
	db       *gorm.DB
	watchers *watchers
}

func NewSQLite(db *gorm.DB) *SQLite {
	return &SQLite{db: db, watchers: newWatchers()}
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var rec models.Record
	err := s.db.WithContext(ctx).Where(&models.Record{Key: key}).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return rec.Value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsert(tx, key, value)
	})
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	s.watchers.notify(key, value)
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Where(&models.Record{Key: key}).Delete(&models.Record{})
	if res.Error != nil {
		return fmt.Errorf("store: delete %q: %w", key, res.Error)
	}
	if res.RowsAffected > 0 {
		s.watchers.notify(key, nil)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, key string, fn UpdateFunc) error {
	var (
		next    []byte
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Record
		err := tx.Where(&models.Record{Key: key}).Take(&rec).Error
		existed := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existed = false
		} else if err != nil {
			return err
		}

		var current []byte
		if existed {
			current = rec.Value
		}
		next, err = fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			if !existed {
				return nil
			}
			changed = true
			return tx.Where(&models.Record{Key: key, Version: rec.Version}).Delete(&models.Record{}).Error
		}
		changed = true
		return upsert(tx, key, next)
	})
	if err != nil {
		return fmt.Errorf("store: update %q: %w", key, err)
	}
	if changed {
		s.watchers.notify(key, next)
	}
	return nil
}

func (s *SQLite) Subscribe(key string, fn func([]byte)) func() {
	return s.watchers.add(key, fn)
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsert(tx *gorm.DB, key string, value []byte) error {
	rec := models.Record{Key: key, Value: value, Version: 1}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      value,
			"version":    gorm.Expr("records.version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&rec).Error
}
