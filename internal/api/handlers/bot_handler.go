package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/markdave123-py/kbchat/internal/botframework"
)

type Replier interface {
	SendReply(ctx context.Context, in *botframework.Activity, text string) error
}

type ActivityValidator interface {
	Validate(ctx context.Context, authHeader string) error
}

// BotHandler receives Bot Framework activities and answers message
// activities through the connector.
type BotHandler struct {
	assistant Answerer
	replier   Replier
	auth      ActivityValidator
	logger    *slog.Logger
}

// NewBotHandler wires the bot endpoint. auth may be nil to accept
// unauthenticated activities.
func NewBotHandler(a Answerer, replier Replier, auth ActivityValidator, logger *slog.Logger) *BotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotHandler{assistant: a, replier: replier, auth: auth, logger: logger}
}

func (h *BotHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.auth != nil {
		if err := h.auth.Validate(ctx, r.Header.Get("Authorization")); err != nil {
			h.logger.Warn("rejected activity", "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	activity, err := botframework.ParseActivity(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if activity.IsMessage() {
		answer := h.assistant.HandleQuestion(ctx, activity.Text)
		if err := h.replier.SendReply(ctx, activity, answer); err != nil {
			h.logger.Error("sending reply failed", "conversation", activity.Conversation.ID, "error", err)
			if errors.Is(err, context.DeadlineExceeded) {
				writeError(w, http.StatusGatewayTimeout, "reply timed out")
				return
			}
			writeError(w, http.StatusBadGateway, "failed to deliver reply")
			return
		}
	}

	writeJSON(w, http.StatusCreated, struct{}{})
}
