package models

import (
	"fmt"
	"sort"
	"time"
)

// PollStatus is derived from the active flag and the end date; it is never stored.
type PollStatus string

const (
	PollStatusOpen   PollStatus = "open"
	PollStatusClosed PollStatus = "closed"
)

// Column widths of the schema. Input longer than these is rejected before it
// reaches the store; keep them in step with the size tags.
const (
	MaxTitleLen      = 200
	MaxOptionTextLen = 255
	MaxOptionIDLen   = 32
	MaxVoterIDLen    = 128
	MaxAuthorLen     = 255
)

// Poll represents a voting poll.
//
// TotalVotes always equals the sum of the option counters. Both are only ever
// changed together, inside one transaction.
type Poll struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	Title       string       `gorm:"size:200;not null" json:"title"`
	Description string       `gorm:"type:text" json:"description"`
	Options     []PollOption `gorm:"foreignKey:PollID" json:"options"`
	TotalVotes  int64        `gorm:"not null;default:0" json:"total_votes"`
	EndDate     time.Time    `gorm:"not null;index" json:"end_date"`
	IsActive    bool         `gorm:"not null;index" json:"is_active"` // no default tag: false must be written as-is
	CreatedBy   string       `gorm:"size:255" json:"created_by"`
	CreatedAt   time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PollOption is one choice within a poll. Its ID is only unique within the poll.
type PollOption struct {
	PollID   string `gorm:"primaryKey;size:36" json:"-"`
	ID       string `gorm:"primaryKey;size:32" json:"id"`
	Text     string `gorm:"size:255;not null" json:"text"`
	Position int    `gorm:"not null" json:"-"`
	Votes    int64  `gorm:"not null;default:0" json:"votes"`
}

// OptionID returns the identifier assigned to the option at the given
// zero-based position.
func OptionID(position int) string {
	return fmt.Sprintf("option_%d", position+1)
}

// IsOpen reports whether the poll accepts votes at now.
func (p *Poll) IsOpen(now time.Time) bool {
	return p.IsActive && now.Before(p.EndDate)
}

// Status returns the voting window state at now.
func (p *Poll) Status(now time.Time) PollStatus {
	if p.IsOpen(now) {
		return PollStatusOpen
	}
	return PollStatusClosed
}

// FindOption looks up an option of this poll by its identifier.
func (p *Poll) FindOption(optionID string) (*PollOption, bool) {
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			return &p.Options[i], true
		}
	}
	return nil, false
}

// SumOptionVotes adds up the option counters.
func (p *Poll) SumOptionVotes() int64 {
	var sum int64
	for _, o := range p.Options {
		sum += o.Votes
	}
	return sum
}

// SortOptions puts options in display order.
func (p *Poll) SortOptions() {
	sort.SliceStable(p.Options, func(i, j int) bool {
		return p.Options[i].Position < p.Options[j].Position
	})
}

// OptionResult is an option with its share of the votes.
type OptionResult struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// PollResults is the read model pushed to realtime subscribers and cached.
type PollResults struct {
	PollID     string         `json:"poll_id"`
	Title      string         `json:"title"`
	TotalVotes int64          `json:"total_votes"`
	Options    []OptionResult `json:"options"`
	Status     PollStatus     `json:"status"`
	EndDate    time.Time      `json:"end_date"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Results computes the percentage breakdown of the poll at now.
func (p *Poll) Results(now time.Time) PollResults {
	results := make([]OptionResult, len(p.Options))
	for i, option := range p.Options {
		results[i] = OptionResult{
			ID:    option.ID,
			Text:  option.Text,
			Votes: option.Votes,
		}
		if p.TotalVotes > 0 {
			results[i].Percentage = float64(option.Votes) / float64(p.TotalVotes) * 100
		}
	}

	return PollResults{
		PollID:     p.ID,
		Title:      p.Title,
		TotalVotes: p.TotalVotes,
		Options:    results,
		Status:     p.Status(now),
		EndDate:    p.EndDate,
		UpdatedAt:  now,
	}
}

// PollView is the listing shape of a poll: the stored fields plus derived status.
type PollView struct {
	Poll
	Status PollStatus `json:"status"`
}

// View decorates the poll with its status at now.
func (p Poll) View(now time.Time) PollView {
	return PollView{Poll: p, Status: p.Status(now)}
}
