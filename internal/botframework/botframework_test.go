package botframework

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inbound = `{
	"type": "message",
	"id": "act-1",
	"serviceUrl": "%s",
	"channelId": "msteams",
	"from": {"id": "user-1", "name": "Sam"},
	"recipient": {"id": "bot-1", "name": "kb"},
	"conversation": {"id": "a:conv/1"},
	"text": "What was revenue?"
}`

func TestParseActivity(t *testing.T) {
	a, err := ParseActivity(strings.NewReader(strings.Replace(inbound, "%s", "https://smba.example", 1)))
	require.NoError(t, err)
	assert.True(t, a.IsMessage())
	assert.Equal(t, "What was revenue?", a.Text)
	assert.Equal(t, "a:conv/1", a.Conversation.ID)

	for _, body := range []string{"", "{", `{"text":"hi"}`, `{"type":"message","text":"hi"}`} {
		_, err := ParseActivity(strings.NewReader(body))
		assert.ErrorIs(t, err, ErrMalformedActivity, body)
	}

	a, err = ParseActivity(strings.NewReader(`{"type":"conversationUpdate"}`))
	require.NoError(t, err)
	assert.False(t, a.IsMessage())
}

func TestActivity_Reply(t *testing.T) {
	in := &Activity{
		Type: ActivityMessage, ID: "act-1", ServiceURL: "https://smba.example",
		From: ChannelAccount{ID: "user-1"}, Recipient: ChannelAccount{ID: "bot-1"},
		Conversation: ConversationAccount{ID: "conv"},
	}
	out := in.Reply("hello")
	assert.Equal(t, "bot-1", out.From.ID)
	assert.Equal(t, "user-1", out.Recipient.ID)
	assert.Equal(t, "act-1", out.ReplyToID)
	assert.Equal(t, "conv", out.Conversation.ID)
	assert.Equal(t, "hello", out.Text)
}

func TestConnector_SendReply(t *testing.T) {
	var (
		gotPath string
		got     Activity
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"reply-1"}`)
	}))
	defer srv.Close()

	in, err := ParseActivity(strings.NewReader(strings.Replace(inbound, "%s", srv.URL, 1)))
	require.NoError(t, err)

	c := NewConnector(context.Background(), "", "", time.Second)
	require.NoError(t, c.SendReply(context.Background(), in, "Revenue was $5M."))

	assert.Equal(t, "/v3/conversations/a:conv%2F1/activities/act-1", gotPath)
	assert.Equal(t, "Revenue was $5M.", got.Text)
	assert.Equal(t, "bot-1", got.From.ID)
}

func TestConnector_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewConnectorWithClient(srv.Client())
	err := c.Send(context.Background(), &Activity{ServiceURL: srv.URL, Conversation: ConversationAccount{ID: "c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func keyServer(t *testing.T, kid string, pub *rsa.PublicKey) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
	require.NoError(t, err)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuthenticator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv, _ := keyServer(t, "k1", &key.PublicKey)
	auth := NewAuthenticator("app-id", srv.URL, srv.Client())

	valid := jwt.MapClaims{
		"iss": Issuer,
		"aud": "app-id",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, auth.Validate(context.Background(), "Bearer "+sign(t, key, "k1", valid)))

	wrongAud := jwt.MapClaims{"iss": Issuer, "aud": "other", "exp": time.Now().Add(time.Hour).Unix()}
	assert.ErrorIs(t, auth.Validate(context.Background(), "Bearer "+sign(t, key, "k1", wrongAud)), ErrUnauthorized)

	assert.ErrorIs(t, auth.Validate(context.Background(), "Bearer "+sign(t, key, "k2", valid)), ErrUnauthorized)
	assert.ErrorIs(t, auth.Validate(context.Background(), ""), ErrUnauthorized)
}

func TestAuthenticator_UnknownKeyIDsDoNotRefetchEveryTime(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv, fetches := keyServer(t, "k1", &key.PublicKey)
	auth := NewAuthenticator("app-id", srv.URL, srv.Client())

	claims := jwt.MapClaims{"iss": Issuer, "aud": "app-id", "exp": time.Now().Add(time.Hour).Unix()}
	require.NoError(t, auth.Validate(context.Background(), "Bearer "+sign(t, key, "k1", claims)))
	require.Equal(t, int32(1), fetches.Load())

	for i := range 5 {
		kid := "unknown-" + string(rune('a'+i))
		assert.ErrorIs(t, auth.Validate(context.Background(), "Bearer "+sign(t, key, kid, claims)), ErrUnauthorized)
	}
	assert.Equal(t, int32(1), fetches.Load())

	// cached keys keep working
	require.NoError(t, auth.Validate(context.Background(), "Bearer "+sign(t, key, "k1", claims)))
	assert.Equal(t, int32(1), fetches.Load())
}

func TestAuthenticator_EmulatorMode(t *testing.T) {
	auth := NewAuthenticator("", "", nil)
	assert.Nil(t, auth)
	assert.NoError(t, auth.Validate(context.Background(), ""))
}
