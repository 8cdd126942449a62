package debate

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrAlreadyQueued, CodeAlreadyQueued},
		{ErrAlreadyInSession, CodeAlreadyInSession},
		{fmt.Errorf("wrapped: %w", ErrSessionNotFound), CodeSessionNotFound},
		{ErrOpponentUnresolvable, CodeOpponentUnresolvable},
		{&BannedError{Until: time.Now(), Remaining: time.Hour, Reason: "x"}, CodeBanned},
		{ErrNotAuthorized, CodeNotAuthorized},
		{ErrInvalidChoice, CodeInvalidMessage},
		{ErrUnknownCategory, CodeInvalidMessage},
		{fmt.Errorf("%w: too long", ErrContentRejected), CodeContentRejected},
		{ErrUnknownConnection, CodeUnknownConnection},
		{&RateLimitedError{Action: "chat", RetryAfter: time.Second}, CodeRateLimited},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
