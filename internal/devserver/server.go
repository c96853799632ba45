package devserver

import (
	"net/http"
	"strings"

	"github.com/astromatch/chatkit/internal/config"
	"github.com/astromatch/chatkit/internal/repository"
	"github.com/astromatch/chatkit/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/astromatch/chatkit/internal/middleware"
)

// Deps bundles what the router needs; main owns construction and
// lifecycle of each piece.
type Deps struct {
	Hub       *Hub
	Presence  storage.PresenceStore
	UserRepo  *repository.UserRepository
	MatchRepo *repository.MatchRepository
	MsgRepo   *repository.MessageRepository
}

// NewRouter assembles the devserver's HTTP surface: the REST API, the
// media endpoints, the websocket upgrade and the dev seeding routes.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	msgH := NewMessageHandler(d.MsgRepo, d.MatchRepo, d.Hub)
	matchH := NewMatchHandler(d.MatchRepo, d.UserRepo)
	uploadH := NewUploadHandler(cfg.UploadDir, cfg.MaxUploadSize)
	devH := NewDevHandler(d.UserRepo, d.MatchRepo)
	wsH := NewWSHandler(d.Hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Websocket upgrades bypass the wrapping middleware below; hijacked
	// connections and response rewriting do not mix.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				wsH.ServeWS(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/media/{mediaRef}", uploadH.Serve)

	// Seeding endpoints, unauthenticated on purpose.
	r.Post("/api/dev/users", devH.CreateUser)
	r.Post("/api/dev/matches", devH.CreateMatch)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth)

		r.Get("/api/matches", matchH.GetMatches)

		// The {id} segment is a conversation id on history/mark-read
		// and a message id on edit/delete/react; chi forbids mixing
		// param names at one position.
		r.Post("/api/messages", msgH.SendMessage)
		r.Post("/api/messages/upload", uploadH.Upload)
		r.Get("/api/messages/{id}", msgH.GetMessages)
		r.Post("/api/messages/{id}/mark-read", msgH.MarkRead)
		r.Post("/api/messages/{id}/edit", msgH.EditMessage)
		r.Post("/api/messages/{id}/delete", msgH.DeleteMessage)
		r.Post("/api/messages/{id}/react", msgH.ReactMessage)
	})

	r.Get("/ws", wsH.ServeWS)

	return r
}
