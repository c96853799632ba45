package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/astromatch/chatkit/internal/logger"
	"github.com/astromatch/chatkit/internal/model"
	"github.com/astromatch/chatkit/internal/repository"
	"github.com/google/uuid"
)

// DevHandler seeds users and matches. In production matching lives in a
// separate service; these endpoints exist so a local setup can create
// two accounts and pair them without it.
type DevHandler struct {
	userRepo  *repository.UserRepository
	matchRepo *repository.MatchRepository
}

func NewDevHandler(userRepo *repository.UserRepository, matchRepo *repository.MatchRepository) *DevHandler {
	return &DevHandler{userRepo: userRepo, matchRepo: matchRepo}
}

type createUserRequest struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (h *DevHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	u := &model.User{
		ID:        req.ID,
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.userRepo.Create(r.Context(), u); err != nil {
		logger.Errorf("create user %s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type createMatchRequest struct {
	User1ID string `json:"user1_id"`
	User2ID string `json:"user2_id"`
}

func (h *DevHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User1ID == "" || req.User2ID == "" || req.User1ID == req.User2ID {
		writeError(w, http.StatusBadRequest, "two distinct user ids required")
		return
	}

	m := &model.Match{
		ID:        uuid.New().String(),
		User1ID:   req.User1ID,
		User2ID:   req.User2ID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.matchRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("create match %s/%s: %v", req.User1ID, req.User2ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create match")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
