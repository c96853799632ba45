package model

import "time"

// Conversation is a one-to-one thread between two matched identities.
// Messages hold the store's current ordered view; insertion is governed
// by Message.Before, never raw append.
type Conversation struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
	Messages    []Message   `json:"messages"`
}

// Match is the devserver's pairing row; IsActive false means the match
// was unmatched and no longer accepts messages.
type Match struct {
	ID        string    `json:"id"`
	User1ID   string    `json:"user1_id"`
	User2ID   string    `json:"user2_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Counterpart returns the id of the other participant in the match.
func (m *Match) Counterpart(userID string) string {
	if m.User1ID == userID {
		return m.User2ID
	}
	return m.User1ID
}

// HasMember reports whether userID is one of the two matched users.
func (m *Match) HasMember(userID string) bool {
	return m.User1ID == userID || m.User2ID == userID
}
