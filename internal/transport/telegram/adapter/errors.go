package adapter

import (
	"fmt"
	"strings"

	kit "curatorbot/internal/transport"
)

// Bot API error descriptions, lower-cased, that mean the recipient is gone
// for good.
var unreachableHints = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
	"bot is not a member",
	"bot can't initiate conversation",
	"peer_id_invalid",
	"have no rights to send",
}

// Descriptions that mean the source message no longer exists.
var goneHints = []string{
	"message to copy not found",
	"message to forward not found",
	"message not found",
	"message_id_invalid",
	"message can't be copied",
}

// classify wraps platform errors with the transport sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	low := strings.ToLower(err.Error())
	for _, h := range goneHints {
		if strings.Contains(low, h) {
			return fmt.Errorf("%w: %v", kit.ErrItemGone, err)
		}
	}
	for _, h := range unreachableHints {
		if strings.Contains(low, h) {
			return fmt.Errorf("%w: %v", kit.ErrUnreachable, err)
		}
	}
	return err
}

// classifyProbe is classify for copies into the probe chat. That chat is
// known to exist, so "chat not found" means the item's source chat is gone.
func classifyProbe(err error) error {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "chat not found") {
		return fmt.Errorf("%w: %v", kit.ErrItemGone, err)
	}
	return classify(err)
}
