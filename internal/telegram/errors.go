package telegram

import (
	"github.com/gotd/td/tgerr"

	"github.com/brainrot/tg-llm-rewrite/internal/rewrite"
)

// classifyEditError maps an edit RPC failure onto the engine's edit
// error kinds.
func classifyEditError(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &rewrite.EditError{Kind: rewrite.EditRateLimited, RetryAfter: d, Err: err}
	}
	kind := rewrite.EditOther
	switch {
	case tgerr.Is(err, "MESSAGE_NOT_MODIFIED"):
		kind = rewrite.EditNotModified
	case tgerr.Is(err,
		"MESSAGE_ID_INVALID",
		"MESSAGE_EDIT_TIME_EXPIRED",
		"MESSAGE_AUTHOR_REQUIRED",
		"PEER_ID_INVALID",
		"CHANNEL_PRIVATE",
		"CHAT_ADMIN_REQUIRED",
	):
		kind = rewrite.EditNotFound
	case tgerr.Is(err,
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	), tgerr.IsCode(err, 401):
		kind = rewrite.EditAuthInvalid
	}
	return &rewrite.EditError{Kind: kind, Err: err}
}

// isAuthError reports whether err means the session is unusable.
func isAuthError(err error) bool {
	return tgerr.IsCode(err, 401)
}
