package transport

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnreachable marks a recipient that cannot be delivered to anymore
	// (blocked the bot, deactivated, chat gone). Callers count it, never retry.
	ErrUnreachable = errors.New("recipient unreachable")

	// ErrItemGone marks an upstream item that no longer exists at its source.
	ErrItemGone = errors.New("upstream item gone")
)

func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }

func IsItemGone(err error) bool { return errors.Is(err, ErrItemGone) }

// IsTransient reports whether a send error is worth retrying.
// Context cancellation and the two terminal sentinels are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsUnreachable(err) || IsItemGone(err) {
		return false
	}
	low := strings.ToLower(err.Error())
	for _, s := range permanentHints {
		if strings.Contains(low, s) {
			return false
		}
	}
	return true
}

// permanentHints are lower-cased fragments of platform errors that will not
// succeed on retry even though the adapter did not map them to a sentinel.
var permanentHints = []string{
	"bad request",
	"unauthorized",
	"forbidden",
}
