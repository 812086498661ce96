package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"student-polling-backend/config"
	"student-polling-backend/models"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testConfig(t *testing.T, env string) config.Config {
	t.Helper()
	return config.Config{
		Environment: env,
		DB: config.DBConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "polling.db"),
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenSeedsDevelopmentData(t *testing.T) {
	db, err := Open(testConfig(t, "development"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { Close(db, discardLogger()) })

	var polls []models.Poll
	require.NoError(t, db.Preload("Options").Find(&polls).Error)
	require.Len(t, polls, 1)
	assert.Len(t, polls[0].Options, 3)
	assert.True(t, polls[0].IsActive)

	var posts int64
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	assert.Equal(t, int64(1), posts)

	// seeding twice is a no-op
	require.NoError(t, SeedSampleData(db, discardLogger()))
	var count int64
	db.Model(&models.Poll{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOpenProductionSkipsSeed(t *testing.T) {
	db, err := Open(testConfig(t, "production"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { Close(db, discardLogger()) })

	var count int64
	require.NoError(t, db.Model(&models.Poll{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDuplicateVoteIsDetected(t *testing.T) {
	db, err := Open(testConfig(t, "test"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { Close(db, discardLogger()) })

	vote := models.Vote{ID: "v1", PollID: "p1", VoterID: "u1", OptionID: "option_1", Timestamp: time.Now()}
	require.NoError(t, db.Create(&vote).Error)

	dup := models.Vote{ID: "v2", PollID: "p1", VoterID: "u1", OptionID: "option_2", Timestamp: time.Now()}
	err = db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
	assert.False(t, IsTransient(err))
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"gorm translated", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"mysql 1062", &mysql.MySQLError{Number: 1062}, true},
		{"mysql other", &mysql.MySQLError{Number: 1146}, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsDuplicateKey(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"bad conn", driver.ErrBadConn, true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}
