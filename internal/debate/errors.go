package debate

import (
	"errors"
	"fmt"
	"time"
)

// Errors reported to the caller of a service operation. None of them are
// fatal; the ws dispatcher and the HTTP facade turn them into error replies.
var (
	ErrAlreadyQueued        = errors.New("debate: already searching for an opponent")
	ErrAlreadyInSession     = errors.New("debate: already in a debate")
	ErrSessionNotFound      = errors.New("debate: debate not found")
	ErrOpponentUnresolvable = errors.New("debate: opponent unresolvable")
	ErrNotAuthorized        = errors.New("debate: not authorized")
	ErrUnknownConnection    = errors.New("debate: unknown connection")
	ErrInvalidChoice        = errors.New("debate: invalid vote choice")
	ErrInvalidMessage       = errors.New("debate: invalid message")
	ErrContentRejected      = errors.New("debate: content rejected")
	ErrUnknownCategory      = errors.New("debate: unknown category")
	ErrBanned               = errors.New("debate: banned")
	ErrRateLimited          = errors.New("debate: rate limited")
)

// BannedError carries the active ban of a rejected connection.
type BannedError struct {
	Until     time.Time
	Remaining time.Duration
	Reason    string
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("debate: banned for %s: %s", e.Remaining.Round(time.Second), e.Reason)
}

// Is makes errors.Is(err, ErrBanned) match.
func (e *BannedError) Is(target error) bool { return target == ErrBanned }

// RateLimitedError tells the caller when it may retry.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("debate: %s rate limited, retry after %s", e.Action, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// Wire error codes.
const (
	CodeAlreadyQueued        = "already_queued"
	CodeAlreadyInSession     = "already_in_session"
	CodeSessionNotFound      = "session_not_found"
	CodeOpponentUnresolvable = "opponent_unresolvable"
	CodeBanned               = "banned"
	CodeNotAuthorized        = "not_authorized"
	CodeInvalidMessage       = "invalid_message"
	CodeContentRejected      = "content_rejected"
	CodeUnknownConnection    = "unknown_connection"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal"
)

// ErrorCode maps an error returned by the service to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyQueued):
		return CodeAlreadyQueued
	case errors.Is(err, ErrAlreadyInSession):
		return CodeAlreadyInSession
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrOpponentUnresolvable):
		return CodeOpponentUnresolvable
	case errors.Is(err, ErrBanned):
		return CodeBanned
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrInvalidChoice), errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownCategory):
		return CodeInvalidMessage
	case errors.Is(err, ErrContentRejected):
		return CodeContentRejected
	case errors.Is(err, ErrUnknownConnection):
		return CodeUnknownConnection
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
