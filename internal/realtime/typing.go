package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/presence"
)

// BlockChecker reports whether blockerID has blocked blockedID.
type BlockChecker interface {
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
}

// Typing relays ephemeral typing indicators. Nothing is stored, queued or
// acknowledged; clients clear the indicator themselves after a short pause.
type Typing struct {
	Registry *presence.Registry
	Blocks   BlockChecker
	Log      zerolog.Logger
}

// Set forwards from's typing state to toID when toID is live and has not
// blocked from. It reports whether the event was pushed.
func (t *Typing) Set(ctx context.Context, fromID, username, toID string, isTyping bool) bool {
	if toID == "" || toID == fromID {
		return false
	}
	c, ok := t.Registry.Lookup(toID)
	if !ok {
		return false
	}
	if t.Blocks != nil {
		blocked, err := t.Blocks.IsBlocked(ctx, toID, fromID)
		if err != nil {
			t.Log.Warn().Err(err).Str("from", fromID).Str("to", toID).Msg("typing block check")
			return false
		}
		if blocked {
			return false
		}
	}
	err := c.Push(event(EventTypingState, TypingState{FromUser: fromID, Username: username, IsTyping: isTyping}))
	return err == nil
}
