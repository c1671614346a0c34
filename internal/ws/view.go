package ws

import (
	"errors"

	"github.com/kiliankoe/famemely/internal/game"
)

// ErrorPayload maps an action error to the {code, message} sent to clients.
func ErrorPayload(err error) map[string]any {
	if kind := game.KindOf(err); kind != "" {
		return map[string]any{"code": string(kind), "message": err.Error()}
	}
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		return map[string]any{"code": "session_not_found", "message": "Session not found"}
	case errors.Is(err, game.ErrSessionClosed):
		return map[string]any{"code": "session_closed", "message": "Server is shutting down"}
	default:
		return map[string]any{"code": "internal", "message": "Something went wrong"}
	}
}
