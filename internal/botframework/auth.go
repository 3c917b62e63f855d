package botframework

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	// KeysURL publishes the keys the Bot Framework signs channel tokens with.
	KeysURL = "https://login.botframework.com/v1/.well-known/keys"
	Issuer  = "https://api.botframework.com"

	keyRefresh = 24 * time.Hour
	// minimum spacing between key fetches, whatever kid callers present
	keyRefetchEvery = time.Minute
)

var ErrUnauthorized = errors.New("unauthorized activity")

// Authenticator validates the bearer token the channel attaches to inbound
// activities.
type Authenticator struct {
	appID   string
	keysURL string
	client  *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
	refetch *rate.Limiter
}

// NewAuthenticator returns nil when appID is empty; a nil Authenticator
// accepts every request (emulator mode).
func NewAuthenticator(appID, keysURL string, client *http.Client) *Authenticator {
	if appID == "" {
		return nil
	}
	if keysURL == "" {
		keysURL = KeysURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Authenticator{
		appID:   appID,
		keysURL: keysURL,
		client:  client,
		refetch: rate.NewLimiter(rate.Every(keyRefetchEvery), 1),
	}
}

// Validate checks the Authorization header of an inbound activity.
func (a *Authenticator) Validate(ctx context.Context, authHeader string) error {
	if a == nil {
		return nil
	}
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || raw == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(a.appID),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(5*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

func (a *Authenticator) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k, ok := a.keys[kid]
	if ok && time.Since(a.fetched) < keyRefresh {
		return k, nil
	}
	if !a.refetch.Allow() {
		// serve a stale key until the next fetch is allowed
		if ok {
			return k, nil
		}
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	keys, err := a.fetchKeys(ctx)
	if err != nil {
		if ok {
			return k, nil
		}
		return nil, err
	}
	a.keys, a.fetched = keys, time.Now()
	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (a *Authenticator) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.keysURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signing keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing keys: %s", resp.Status)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode signing keys: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	return keys, nil
}
