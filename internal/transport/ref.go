package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ItemRef locates a message in an upstream chat.
//
// Canonical string form is "<chat_id>:<message_id>", e.g. "-1001234567890:42".
// Username is set only while parsing public links; callers resolve it to a
// ChatID before storing the ref.
type ItemRef struct {
	ChatID    int64
	MessageID int
	Username  string
}

var ErrBadRef = errors.New("invalid item reference")

func (r ItemRef) String() string {
	return strconv.FormatInt(r.ChatID, 10) + ":" + strconv.Itoa(r.MessageID)
}

// Resolved reports whether the ref carries a numeric chat id.
func (r ItemRef) Resolved() bool { return r.ChatID != 0 && r.MessageID > 0 }

// ParseItemRef accepts:
//   - "<chat_id>:<message_id>"
//   - "https://t.me/c/<internal_id>/<message_id>" (private channels)
//   - "https://t.me/<username>/<message_id>" and "@username/<message_id>"
func ParseItemRef(raw string) (ItemRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ItemRef{}, ErrBadRef
	}

	if chat, msg, ok := strings.Cut(s, ":"); ok && !strings.Contains(s, "/") {
		cid, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
		if err != nil || cid == 0 {
			return ItemRef{}, fmt.Errorf("%w: chat id %q", ErrBadRef, chat)
		}
		mid, err := strconv.Atoi(strings.TrimSpace(msg))
		if err != nil || mid <= 0 {
			return ItemRef{}, fmt.Errorf("%w: message id %q", ErrBadRef, msg)
		}
		return ItemRef{ChatID: cid, MessageID: mid}, nil
	}

	if strings.HasPrefix(s, "@") {
		name, msg, ok := strings.Cut(s[1:], "/")
		if !ok || name == "" {
			return ItemRef{}, fmt.Errorf("%w: %q", ErrBadRef, raw)
		}
		mid, err := strconv.Atoi(msg)
		if err != nil || mid <= 0 {
			return ItemRef{}, fmt.Errorf("%w: message id %q", ErrBadRef, msg)
		}
		return ItemRef{Username: name, MessageID: mid}, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ItemRef{}, fmt.Errorf("%w: %v", ErrBadRef, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "t.me" && host != "telegram.me" {
		return ItemRef{}, fmt.Errorf("%w: unsupported host %q", ErrBadRef, host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "c":
		internal, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || internal <= 0 {
			return ItemRef{}, fmt.Errorf("%w: channel id %q", ErrBadRef, parts[1])
		}
		mid, err := strconv.Atoi(parts[2])
		if err != nil || mid <= 0 {
			return ItemRef{}, fmt.Errorf("%w: message id %q", ErrBadRef, parts[2])
		}
		// Private channel links drop the -100 prefix of the Bot API chat id.
		cid, _ := strconv.ParseInt("-100"+parts[1], 10, 64)
		return ItemRef{ChatID: cid, MessageID: mid}, nil
	case len(parts) == 2:
		mid, err := strconv.Atoi(parts[1])
		if err != nil || mid <= 0 {
			return ItemRef{}, fmt.Errorf("%w: message id %q", ErrBadRef, parts[1])
		}
		return ItemRef{Username: parts[0], MessageID: mid}, nil
	default:
		return ItemRef{}, fmt.Errorf("%w: %q", ErrBadRef, raw)
	}
}
