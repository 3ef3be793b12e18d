// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/lobby"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/sirupsen/logrus"
)

// TokenVerifier resolves an account token to its username.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// LobbyServer serves the public room list.
type LobbyServer struct {
	Dir      lobby.Directory
	Verifier TokenVerifier
	Logger   logrus.FieldLogger
}

// NewLobbyServer returns a LobbyServer. logger may be nil.
func NewLobbyServer(dir lobby.Directory, v TokenVerifier, logger logrus.FieldLogger) *LobbyServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LobbyServer{Dir: dir, Verifier: v, Logger: logger}
}

// Routes registers the lobby endpoints on mux.
func (ls *LobbyServer) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", PingHandler)
	mux.HandleFunc("GET /lobby", ListRoomsHandler(ls))
	mux.HandleFunc("POST /lobby", AnnounceRoomHandler(ls))
	mux.HandleFunc("DELETE /lobby/{id}", DelistRoomHandler(ls))
}

// authenticate returns the account name behind the request, writing a 401
// when there is none.
func (ls *LobbyServer) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := requestToken(r)
	if token == "" {
		http.Error(w, "missing auth token", http.StatusUnauthorized)
		return "", false
	}
	username, err := ls.Verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	return username, true
}

// PingHandler answers liveness checks.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

// AnnounceRoomHandler lists or refreshes a room. Only the account that first
// announced a room may refresh it.
func AnnounceRoomHandler(ls *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ls.authenticate(w, r)
		if !ok {
			return
		}

		var d models.RoomDescriptor
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&d); err != nil {
			http.Error(w, "bad room payload", http.StatusBadRequest)
			return
		}
		if err := lobby.ValidateDescriptor(d); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		existing, getErr := ls.Dir.Get(r.Context(), d.ID)
		isNew := errors.Is(getErr, lobby.ErrRoomNotFound)
		switch {
		case getErr == nil && existing.Owner != owner:
			http.Error(w, "room is owned by another account", http.StatusForbidden)
			return
		case getErr != nil && !isNew:
			ls.Logger.WithError(getErr).Error("failed to read listing")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if err := ls.Dir.Put(r.Context(), lobby.Listing{Room: d, Owner: owner}); err != nil {
			ls.Logger.WithError(err).WithField("room", d.ID).Error("failed to store listing")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		status := http.StatusOK
		if isNew {
			status = http.StatusCreated
			ls.Logger.WithFields(logrus.Fields{"room": d.ID, "name": d.Name, "owner": owner}).Info("room announced")
		}
		writeJSON(w, status, d)
	}
}

// ListRoomsHandler returns every live listing.
func ListRoomsHandler(ls *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listings, err := ls.Dir.List(r.Context())
		if err != nil {
			ls.Logger.WithError(err).Error("failed to list rooms")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		rooms := make([]models.RoomDescriptor, 0, len(listings))
		for _, l := range listings {
			rooms = append(rooms, l.Room)
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

// DelistRoomHandler removes a listing. Owner only.
func DelistRoomHandler(ls *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ls.authenticate(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		existing, err := ls.Dir.Get(r.Context(), id)
		if errors.Is(err, lobby.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			ls.Logger.WithError(err).Error("failed to read listing")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if existing.Owner != owner {
			http.Error(w, "room is owned by another account", http.StatusForbidden)
			return
		}
		if err := ls.Dir.Delete(r.Context(), id); err != nil && !errors.Is(err, lobby.ErrRoomNotFound) {
			ls.Logger.WithError(err).Error("failed to delete listing")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		ls.Logger.WithFields(logrus.Fields{"room": id, "owner": owner}).Info("room delisted")
		w.WriteHeader(http.StatusNoContent)
	}
}
