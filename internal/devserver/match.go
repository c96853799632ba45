package devserver

import (
	"net/http"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/middleware"
	"github.com/astromatch/chatkit/internal/protocol"
	"github.com/astromatch/chatkit/internal/repository"
)

type MatchHandler struct {
	matchRepo *repository.MatchRepository
	userRepo  *repository.UserRepository
}

func NewMatchHandler(matchRepo *repository.MatchRepository, userRepo *repository.UserRepository) *MatchHandler {
	return &MatchHandler{matchRepo: matchRepo, userRepo: userRepo}
}

// GetMatches lists the caller's active matches with the counterpart's
// display snapshot.
func (h *MatchHandler) GetMatches(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("http.GetMatches", time.Now())()
	userID := middleware.GetUserID(r.Context())

	matches, err := h.matchRepo.GetUserMatches(r.Context(), userID)
	if err != nil {
		logger.Errorf("get matches user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to get matches")
		return
	}

	out := protocol.MatchesResponse{Matches: make([]protocol.MatchEntry, 0, len(matches))}
	for _, m := range matches {
		counterpartID := m.Counterpart(userID)
		entry := protocol.MatchEntry{
			ConversationID: m.ID,
			UserID:         counterpartID,
		}
		if u, err := h.userRepo.GetByID(r.Context(), counterpartID); err == nil {
			entry.Username = u.Username
			entry.AvatarURL = u.AvatarURL
			entry.IsOnline = u.IsOnline
			if !u.LastSeenAt.IsZero() {
				t := u.LastSeenAt
				entry.LastSeenAt = &t
			}
		}
		out.Matches = append(out.Matches, entry)
	}

	writeJSON(w, http.StatusOK, out)
}
