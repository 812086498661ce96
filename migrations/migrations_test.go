package migrations

import (
	"path/filepath"
	"testing"
	"time"

	"student-polling-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "m.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.Vote{}))
	return db
}

func TestEnsureVoteUniqueIndexRecreatesDroppedIndex(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Migrator().DropIndex(&models.Vote{}, VoteUniqueIndex))
	assert.False(t, db.Migrator().HasIndex(&models.Vote{}, VoteUniqueIndex))

	require.NoError(t, Run(db))
	assert.True(t, db.Migrator().HasIndex(&models.Vote{}, VoteUniqueIndex))
}

func TestBackfillTotalVotes(t *testing.T) {
	db := openDB(t)
	poll := models.Poll{
		ID:         "p1",
		Title:      "drifted",
		EndDate:    time.Now().Add(time.Hour),
		IsActive:   true,
		TotalVotes: 1,
		Options: []models.PollOption{
			{ID: "option_1", Text: "a", Position: 0, Votes: 2},
			{ID: "option_2", Text: "b", Position: 1, Votes: 3},
		},
	}
	require.NoError(t, db.Create(&poll).Error)

	require.NoError(t, BackfillTotalVotes(db))

	var got models.Poll
	require.NoError(t, db.First(&got, "id = ?", "p1").Error)
	assert.Equal(t, int64(5), got.TotalVotes)

	// already consistent: nothing to change
	require.NoError(t, BackfillTotalVotes(db))
	require.NoError(t, db.First(&got, "id = ?", "p1").Error)
	assert.Equal(t, int64(5), got.TotalVotes)
}
