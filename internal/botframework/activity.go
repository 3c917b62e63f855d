// Package botframework speaks just enough of the Bot Framework protocol to
// receive message activities and post replies through the Bot Connector.
package botframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	ActivityMessage            = "message"
	ActivityConversationUpdate = "conversationUpdate"
)

var ErrMalformedActivity = errors.New("malformed activity")

type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type ConversationAccount struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// Activity is the subset of the Bot Framework activity schema this service
// reads and writes.
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Timestamp    string              `json:"timestamp,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Conversation ConversationAccount `json:"conversation"`
	Recipient    ChannelAccount      `json:"recipient"`
	Text         string              `json:"text,omitempty"`
	TextFormat   string              `json:"textFormat,omitempty"`
	Locale       string              `json:"locale,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
}

// ParseActivity decodes an inbound activity. Only the type is required;
// message activities must also say where to send the reply.
func ParseActivity(r io.Reader) (*Activity, error) {
	var a Activity
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivity, err)
	}
	if strings.TrimSpace(a.Type) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedActivity)
	}
	if a.Type == ActivityMessage && (a.ServiceURL == "" || a.Conversation.ID == "") {
		return nil, fmt.Errorf("%w: message without serviceUrl or conversation", ErrMalformedActivity)
	}
	return &a, nil
}

// IsMessage reports whether a carries user text.
func (a *Activity) IsMessage() bool { return a.Type == ActivityMessage }

// Reply builds the outgoing message answering a.
func (a *Activity) Reply(text string) *Activity {
	return &Activity{
		Type:         ActivityMessage,
		ServiceURL:   a.ServiceURL,
		ChannelID:    a.ChannelID,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		Text:         text,
		TextFormat:   "markdown",
		Locale:       a.Locale,
		ReplyToID:    a.ID,
	}
}
