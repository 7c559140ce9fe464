package storage

import "context"

// SessionSecretStore holds the per-session HMAC secrets used to verify signed
// dashboard requests. Implementations: redis.Client, memory.Client (for -dev
// without Redis).
type SessionSecretStore interface {
	SetSessionSecret(ctx context.Context, sessionID, secret string) error
	GetSessionSecret(ctx context.Context, sessionID string) (string, error)
	DeleteSessionSecret(ctx context.Context, sessionID string) error
	Close() error
}
