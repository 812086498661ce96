package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"student-polling-backend/repository"
)

var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrOptionNotFound   = errors.New("option not found")
	ErrPollClosed       = errors.New("poll is closed")
	ErrAlreadyVoted     = errors.New("voter has already voted in this poll")
	ErrInvalidVote      = errors.New("invalid vote")
	ErrInvalidInput     = errors.New("invalid input")
	ErrPostNotFound     = errors.New("post not found")
	ErrTransientStorage = errors.New("transient storage failure")
	ErrPermanentStorage = errors.New("permanent storage failure")
)

// ErrorKind is the caller-facing classification of a service error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindPollClosed
	KindAlreadyVoted
	KindInvalid
	KindTransient
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindPollClosed:
		return "poll_closed"
	case KindAlreadyVoted:
		return "already_voted"
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient_storage_failure"
	default:
		return "permanent_storage_failure"
	}
}

// KindOf classifies err. Unknown errors are permanent.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPollNotFound), errors.Is(err, ErrOptionNotFound), errors.Is(err, ErrPostNotFound):
		return KindNotFound
	case errors.Is(err, ErrPollClosed):
		return KindPollClosed
	case errors.Is(err, ErrAlreadyVoted):
		return KindAlreadyVoted
	case errors.Is(err, ErrInvalidVote), errors.Is(err, ErrInvalidInput):
		return KindInvalid
	case errors.Is(err, ErrTransientStorage):
		return KindTransient
	default:
		return KindPermanent
	}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// tooLong compares in characters, as the column widths are.
func tooLong(s string, limit int) bool {
	return utf8.RuneCountInString(s) > limit
}

// storageErr tags a repository failure as transient or permanent.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if repository.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransientStorage, err)
	}
	return fmt.Errorf("%w: %w", ErrPermanentStorage, err)
}
