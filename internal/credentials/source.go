// Package credentials resolves the upstream API key for a request. Exactly one
// Source is chosen at startup: either the caller supplies the key in its
// Authorization header, or the server supplies it from configuration.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	ModeHeader = "header"
	ModeServer = "server"
)

// Source resolves the key for one request. An empty key with a nil error
// means no credential is available.
type Source interface {
	Resolve(ctx context.Context, authorization string) (string, error)
}

// Getter is the parameter lookup consumed by ParamStore.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// BearerToken returns the second whitespace-separated field of an
// Authorization header value ("Bearer <key>").
func BearerToken(authorization string) string {
	fields := strings.Fields(authorization)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// Header takes the key from the request's bearer token.
type Header struct{}

func (Header) Resolve(_ context.Context, authorization string) (string, error) {
	return BearerToken(authorization), nil
}

// Static returns a key fixed at construction, ignoring the request header.
type Static struct {
	key string
}

func NewStatic(key string) *Static {
	return &Static{key: strings.TrimSpace(key)}
}

func (s *Static) Resolve(context.Context, string) (string, error) {
	return s.key, nil
}

// tokenPayload is the JSON shape accepted for keys stored in Parameter Store.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStore fetches the key from a Parameter Store parameter on first use and
// keeps it for the process lifetime. Failed fetches are not cached.
type ParamStore struct {
	getter Getter
	name   string

	mu  sync.Mutex
	key string
}

func NewParamStore(getter Getter, name string) (*ParamStore, error) {
	if getter == nil {
		return nil, errors.New("credentials: paramstore getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credentials: parameter name must not be empty")
	}
	return &ParamStore{getter: getter, name: name}, nil
}

func (p *ParamStore) Resolve(ctx context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key != "" {
		return p.key, nil
	}

	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("credentials: fetch key from paramstore: %w", err)
	}
	key, err := parseStoredKey(raw)
	if err != nil {
		return "", err
	}
	p.key = key
	return key, nil
}

// parseStoredKey accepts either {"token":"..."} or the bare key.
func parseStoredKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("credentials: unmarshal paramstore value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("credentials: stored API key is empty")
	}
	return raw, nil
}
