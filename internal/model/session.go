package model

import "time"

// Session is a signed-in dashboard session. Issuance lives in the external
// auth service; this service only validates and tracks last_seen_at.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	DeviceName string     `json:"device_name"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
