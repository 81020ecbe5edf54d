package session

// Session is the persisted server-side session. Timestamps are Unix
// milliseconds. ExpiresAt is the absolute cap; the idle window is carried by
// the Redis key TTL.
type Session struct {
	SessionID string
	UserID    string

	// Role is the caller's role code at issuance. The session package does
	// not interpret it.
	Role uint8

	CreatedAt      int64
	LastAccessedAt int64
	ExpiresAt      int64
}
