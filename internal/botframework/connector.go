package botframework

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	TokenURL       = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	ConnectorScope = "https://api.botframework.com/.default"
)

// Connector posts activities to the Bot Connector REST API.
type Connector struct {
	client *http.Client
}

// NewConnector authenticates with the app's client credentials. With an
// empty appID replies are sent without a token, which is what the Bot
// Framework Emulator expects.
func NewConnector(ctx context.Context, appID, appPassword string, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if appID == "" {
		return &Connector{client: &http.Client{Timeout: timeout}}
	}
	cc := &clientcredentials.Config{
		ClientID:     appID,
		ClientSecret: appPassword,
		TokenURL:     TokenURL,
		Scopes:       []string{ConnectorScope},
	}
	client := cc.Client(ctx)
	client.Timeout = timeout
	return &Connector{client: client}
}

// NewConnectorWithClient uses client as is; tests pass an httptest client.
func NewConnectorWithClient(client *http.Client) *Connector {
	return &Connector{client: client}
}

// SendReply posts text as a reply to the inbound activity.
func (c *Connector) SendReply(ctx context.Context, in *Activity, text string) error {
	return c.Send(ctx, in.Reply(text))
}

// Send posts an activity into its conversation, threaded under ReplyToID
// when set.
func (c *Connector) Send(ctx context.Context, a *Activity) error {
	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimRight(a.ServiceURL, "/"), url.PathEscape(a.Conversation.ID))
	if a.ReplyToID != "" {
		endpoint += "/" + url.PathEscape(a.ReplyToID)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send activity: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
