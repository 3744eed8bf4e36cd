// Package attendance records member check-ins from verification results.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	"github.com/glebarez/sqlite" // Pure Go
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlog "gorm.io/gorm/logger"
)

// DayLayout is the format of CheckIn.Day.
const DayLayout = "2006-01-02"

// CheckIn is one attendance record. A member checks in at most once per day.
type CheckIn struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	MemberID    string    `gorm:"uniqueIndex:idx_member_day;not null" json:"member_id"`
	Day         string    `gorm:"uniqueIndex:idx_member_day;not null" json:"day"`
	Scope       string    `gorm:"index" json:"scope,omitempty"`
	SessionID   string    `gorm:"index" json:"session_id,omitempty"`
	Distance    float64   `json:"distance"`
	Score       float64   `json:"score"`
	CheckedInAt time.Time `gorm:"index" json:"checked_in_at"`
}

// Recorder stores check-ins in SQLite. It implements capture.ResultSink.
type Recorder struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (and migrates) the attendance database at path. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Recorder, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormLogger := gormlog.New(
		logging.Logger,
		gormlog.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	logging.Infof("Opening attendance database: %s", path)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open attendance database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&CheckIn{}); err != nil {
		return nil, fmt.Errorf("attendance migration failed: %w", err)
	}

	return &Recorder{db: db, now: time.Now}, nil
}

// RecordResult stores a check-in for a matched result. Unmatched results and
// repeated matches of the same member on the same day are ignored.
func (r *Recorder) RecordResult(ctx context.Context, res matching.Result) error {
	if !res.Matched || res.TemplateID == "" {
		return nil
	}

	now := r.now()
	checkIn := CheckIn{
		MemberID:    res.TemplateID,
		Day:         now.Format(DayLayout),
		Scope:       capture.ScopeFromContext(ctx),
		SessionID:   capture.SessionIDFromContext(ctx),
		Distance:    res.BestDistance,
		Score:       res.Score,
		CheckedInAt: now,
	}

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&checkIn)
	if tx.Error != nil {
		return fmt.Errorf("failed to record check-in: %w", tx.Error)
	}

	log := logging.Component("attendance").WithField("member", checkIn.MemberID)
	if tx.RowsAffected == 0 {
		log.Debug("Member already checked in today")
		return nil
	}
	log.WithField("score", checkIn.Score).Info("Member checked in")
	return nil
}

// CheckedIn reports whether memberID checked in on the day of t.
func (r *Recorder) CheckedIn(ctx context.Context, memberID string, t time.Time) (bool, error) {
	var checkIn CheckIn
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND day = ?", memberID, t.Format(DayLayout)).
		First(&checkIn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query check-in: %w", err)
	}
	return true, nil
}

// ForDay lists the check-ins of the day of t in check-in order.
func (r *Recorder) ForDay(ctx context.Context, t time.Time) ([]CheckIn, error) {
	var checkIns []CheckIn
	err := r.db.WithContext(ctx).
		Where("day = ?", t.Format(DayLayout)).
		Order("checked_in_at, id").
		Find(&checkIns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return checkIns, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
