// Package migrations holds data migrations that AutoMigrate cannot express.
package migrations

import (
	"fmt"
	"log/slog"

	"student-polling-backend/models"

	"gorm.io/gorm"
)

// VoteUniqueIndex is the (poll_id, voter_id) index that enforces one vote per voter.
const VoteUniqueIndex = "idx_votes_poll_voter"

type migration struct {
	name string
	run  func(*gorm.DB) error
}

var all = []migration{
	{"ensure vote unique index", EnsureVoteUniqueIndex},
	{"backfill poll total votes", BackfillTotalVotes},
}

// Run applies every migration in order. Each one is idempotent.
func Run(db *gorm.DB) error {
	for _, m := range all {
		if err := m.run(db); err != nil {
			slog.Error("migration failed", "migration", m.name, "error", err)
			return fmt.Errorf("%s: %w", m.name, err)
		}
		slog.Debug("migration applied", "migration", m.name)
	}
	return nil
}

// EnsureVoteUniqueIndex creates the vote dedup index on tables that predate it.
func EnsureVoteUniqueIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&models.Vote{}, VoteUniqueIndex) {
		return nil
	}
	slog.Info("creating vote unique index", "index", VoteUniqueIndex)
	return db.Migrator().CreateIndex(&models.Vote{}, VoteUniqueIndex)
}

// BackfillTotalVotes repairs polls whose total drifted from the sum of their
// option counters.
func BackfillTotalVotes(db *gorm.DB) error {
	const sum = "(SELECT COALESCE(SUM(poll_options.votes), 0) FROM poll_options WHERE poll_options.poll_id = polls.id)"
	res := db.Exec("UPDATE polls SET total_votes = " + sum + " WHERE total_votes <> " + sum)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		slog.Warn("repaired poll totals", "polls", res.RowsAffected)
	}
	return nil
}
