package models

import "time"

// Vote is an immutable record of one voter's choice in one poll.
// The (poll_id, voter_id) unique index is what makes a second vote impossible.
type Vote struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	PollID    string    `gorm:"size:36;not null;uniqueIndex:idx_votes_poll_voter,priority:1" json:"poll_id"`
	VoterID   string    `gorm:"size:128;not null;uniqueIndex:idx_votes_poll_voter,priority:2" json:"voter_id"`
	OptionID  string    `gorm:"size:32;not null" json:"option_id"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
}

// VoteRecorded is the event emitted after a vote has been committed.
type VoteRecorded struct {
	VoteID    string    `json:"vote_id"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	VoterID   string    `json:"voter_id"`
	Timestamp time.Time `json:"timestamp"`
}
