package models

import "time"

// Presence is the online/typing state of a single user.
type Presence struct {
	UserID   int64     `db:"user_id" json:"user_id"`
	Online   bool      `db:"online_status" json:"online_status"`
	LastSeen time.Time `db:"last_seen" json:"last_seen"`
	TypingIn *int64    `db:"typing_in" json:"typing_in,omitempty"`
}

// Identity is an authenticated caller.
type Identity struct {
	UserID   int64
	Username string
}
