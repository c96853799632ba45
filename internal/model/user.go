package model

import "time"

// User is a full account row as the devserver stores it.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Participant is the counterpart's display snapshot as the client
// renders it in a conversation header: identity plus name/avatar from
// the profile provider and the presence flags the tracker maintains.
type Participant struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatar_url"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// ToParticipant converts a stored user into its public display snapshot.
func (u *User) ToParticipant() Participant {
	p := Participant{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
	}
	if !u.LastSeenAt.IsZero() {
		t := u.LastSeenAt
		p.LastSeenAt = &t
	}
	return p
}

// PresenceState is the tracker-owned online/offline view of one
// participant. LastSeenAt is nil until an offline transition supplies
// a timestamp.
type PresenceState struct {
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
