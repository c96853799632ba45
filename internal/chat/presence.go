package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/astromatch/chatkit/internal/model"
)

// PresenceTracker maintains online/offline/last-seen per counterpart,
// fed by bulk online_users pulls and per-user user_status pushes.
//
// Precedence rule: a push pins the participant's state. A bulk pull
// sets every listed user online (clearing any pin, since a listing is
// positive evidence at pull time) and marks a user offline only when
// their current state is not push-pinned. This way a reconnect's bulk
// pull racing a fresh "came online" push cannot regress the displayed
// status; the pin dissolves on the next event for that user.
type PresenceTracker struct {
	mu      sync.RWMutex
	entries map[string]*presenceEntry
}

type presenceEntry struct {
	online   bool
	lastSeen *time.Time
	pinned   bool // last mutation came from a user_status push
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{entries: make(map[string]*presenceEntry)}
}

// ApplyBulk applies a full online set from a pull. Users absent from
// the set go offline with their last-seen untouched, unless a push has
// pinned them online.
func (p *PresenceTracker) ApplyBulk(onlineIDs []string) {
	online := make(map[string]struct{}, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range online {
		e := p.entry(id)
		e.online = true
		e.pinned = false
	}
	for id, e := range p.entries {
		if _, ok := online[id]; ok {
			continue
		}
		if e.pinned && e.online {
			continue
		}
		e.online = false
		e.pinned = false
	}
}

// ApplyStatus applies a per-user push. Authoritative for that user
// until the next event concerning them.
func (p *PresenceTracker) ApplyStatus(userID string, isOnline bool, lastSeen *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(userID)
	e.online = isOnline
	e.pinned = true
	if lastSeen != nil {
		t := *lastSeen
		e.lastSeen = &t
	}
}

// Track registers a participant so later bulk pulls can transition
// them offline even if no push ever fired for them.
func (p *PresenceTracker) Track(userID string, lastSeen *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entry(userID)
	if e.lastSeen == nil && lastSeen != nil {
		t := *lastSeen
		e.lastSeen = &t
	}
}

// State returns the current presence view for one participant.
func (p *PresenceTracker) State(userID string) model.PresenceState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[userID]
	if !ok {
		return model.PresenceState{}
	}
	st := model.PresenceState{IsOnline: e.online}
	if e.lastSeen != nil {
		t := *e.lastSeen
		st.LastSeenAt = &t
	}
	return st
}

// entry returns the tracked entry, creating it if needed. Caller holds
// the write lock.
func (p *PresenceTracker) entry(userID string) *presenceEntry {
	e, ok := p.entries[userID]
	if !ok {
		e = &presenceEntry{}
		p.entries[userID] = e
	}
	return e
}

// LastSeenLabel renders an offline participant's last-seen timestamp
// into the relative buckets the conversation header shows. Pure
// function of (now, t).
func LastSeenLabel(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
