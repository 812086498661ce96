package repository

import (
	"context"
	"time"

	"student-polling-backend/database"
	"student-polling-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VoteStore is the storage boundary the vote recorder is written against.
type VoteStore interface {
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	FindVote(ctx context.Context, pollID, voterID string) (*models.Vote, error)
	// InsertVote fails with ErrDuplicateVote when (poll, voter) is taken.
	InsertVote(ctx context.Context, vote *models.Vote) (string, error)
	// AtomicIncrement adds one to the option counter and to the poll total,
	// both or neither.
	AtomicIncrement(ctx context.Context, pollID, optionID string) error
	// RunInTx runs fn against a store bound to a single transaction.
	RunInTx(ctx context.Context, fn func(VoteStore) error) error
}

// PollFilter narrows ListPolls. The zero value lists every poll.
type PollFilter struct {
	OpenAt time.Time // only polls accepting votes at this instant
}

// PollPatch carries the admin-editable fields; nil means unchanged.
type PollPatch struct {
	Title       *string
	Description *string
	EndDate     *time.Time
	IsActive    *bool
}

// PollRepository covers the whole poll lifecycle.
type PollRepository interface {
	VoteStore

	CreatePoll(ctx context.Context, poll *models.Poll) error
	ListPolls(ctx context.Context, filter PollFilter) ([]models.Poll, error)
	UpdatePoll(ctx context.Context, pollID string, patch PollPatch) (*models.Poll, error)
	DeletePoll(ctx context.Context, pollID string) error
	HasVoted(ctx context.Context, pollID, voterID string) (bool, error)
	// CloseExpired deactivates active polls whose end date is not after now
	// and returns their IDs.
	CloseExpired(ctx context.Context, now time.Time) ([]string, error)
	ListPollIDs(ctx context.Context) ([]string, error)
}

// GormPollRepository is the gorm implementation of PollRepository.
type GormPollRepository struct {
	db *gorm.DB
}

// NewGormPollRepository creates the repository.
func NewGormPollRepository(db *gorm.DB) *GormPollRepository {
	return &GormPollRepository{db: db}
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *GormPollRepository) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		First(&poll, "id = ?", pollID).Error
	if err != nil {
		return nil, wrapErr("get poll", err)
	}
	return &poll, nil
}

func (r *GormPollRepository) FindVote(ctx context.Context, pollID, voterID string) (*models.Vote, error) {
	var vote models.Vote
	err := r.db.WithContext(ctx).
		Where("poll_id = ? AND voter_id = ?", pollID, voterID).
		First(&vote).Error
	if err != nil {
		return nil, wrapErr("find vote", err)
	}
	return &vote, nil
}

func (r *GormPollRepository) InsertVote(ctx context.Context, vote *models.Vote) (string, error) {
	if vote.ID == "" {
		vote.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(vote).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return "", ErrDuplicateVote
		}
		return "", wrapErr("insert vote", err)
	}
	return vote.ID, nil
}

func (r *GormPollRepository) AtomicIncrement(ctx context.Context, pollID, optionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PollOption{}).
			Where("poll_id = ? AND id = ?", pollID, optionID).
			UpdateColumn("votes", gorm.Expr("votes + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		res = tx.Model(&models.Poll{}).
			Where("id = ?", pollID).
			UpdateColumn("total_votes", gorm.Expr("total_votes + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return wrapErr("increment tally", err)
}

func (r *GormPollRepository) RunInTx(ctx context.Context, fn func(VoteStore) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormPollRepository{db: tx})
	})
	return wrapErr("vote transaction", err)
}

func (r *GormPollRepository) CreatePoll(ctx context.Context, poll *models.Poll) error {
	if poll.ID == "" {
		poll.ID = uuid.NewString()
	}
	for i := range poll.Options {
		poll.Options[i].PollID = poll.ID
	}
	return wrapErr("create poll", r.db.WithContext(ctx).Create(poll).Error)
}

func (r *GormPollRepository) ListPolls(ctx context.Context, filter PollFilter) ([]models.Poll, error) {
	query := r.db.WithContext(ctx).Preload("Options", orderedOptions)
	if !filter.OpenAt.IsZero() {
		query = query.Where("is_active = ? AND end_date > ?", true, filter.OpenAt)
	}

	var polls []models.Poll
	if err := query.Order("created_at DESC").Find(&polls).Error; err != nil {
		return nil, wrapErr("list polls", err)
	}
	return polls, nil
}

func (r *GormPollRepository) UpdatePoll(ctx context.Context, pollID string, patch PollPatch) (*models.Poll, error) {
	updates := map[string]interface{}{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.EndDate != nil {
		updates["end_date"] = *patch.EndDate
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	var poll models.Poll
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&poll).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Preload("Options", orderedOptions).First(&poll, "id = ?", pollID).Error
	})
	if err != nil {
		return nil, wrapErr("update poll", err)
	}
	return &poll, nil
}

// DeletePoll removes the poll and its options. Vote records are kept.
func (r *GormPollRepository) DeletePoll(ctx context.Context, pollID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.PollOption{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", pollID).Delete(&models.Poll{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return wrapErr("delete poll", err)
}

func (r *GormPollRepository) HasVoted(ctx context.Context, pollID, voterID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("poll_id = ? AND voter_id = ?", pollID, voterID).
		Count(&count).Error
	if err != nil {
		return false, wrapErr("has voted", err)
	}
	return count > 0, nil
}

func (r *GormPollRepository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Poll{}).
			Where("is_active = ? AND end_date <= ?", true, now).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Poll{}).
			Where("id IN ? AND is_active = ?", ids, true).
			Update("is_active", false).Error
	})
	if err != nil {
		return nil, wrapErr("close expired polls", err)
	}
	return ids, nil
}

func (r *GormPollRepository) ListPollIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Poll{}).Pluck("id", &ids).Error; err != nil {
		return nil, wrapErr("list poll ids", err)
	}
	return ids, nil
}
