// internal/handlers/lobby_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/auth"
	"github.com/jason-s-yu/netplay/internal/lobby"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLobby(t *testing.T) (*http.ServeMux, *LobbyServer) {
	t.Helper()
	require.NoError(t, auth.Init(0))
	logger, _ := test.NewNullLogger()
	ls := NewLobbyServer(lobby.NewMemoryDirectory(time.Minute), auth.NewVerifier(auth.PublicKey()), logger)
	mux := http.NewServeMux()
	ls.Routes(mux)
	return mux, ls
}

func roomBody(t *testing.T, d models.RoomDescriptor) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func testRoom() models.RoomDescriptor {
	return models.RoomDescriptor{
		ID:             uuid.New(),
		Name:           "TestRoom",
		Address:        "198.51.100.4",
		Port:           24872,
		PreferredGame:  models.GameInfo{Name: "Pokemon X", ID: 0x55D00},
		Host:           "HostUser",
		CurrentPlayers: 1,
		MaxPlayers:     8,
		Version:        4,
	}
}

func serve(mux *http.ServeMux, method, path, token string, body *bytes.Buffer) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// TestAnnounceAndList checks that an announced room shows up in the list.
func TestAnnounceAndList(t *testing.T) {
	mux, _ := newTestLobby(t)
	token, err := auth.CreateJWT("alice")
	require.NoError(t, err)
	room := testRoom()

	w := serve(mux, http.MethodPost, "/lobby", token, roomBody(t, room))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(mux, http.MethodPost, "/lobby", token, roomBody(t, room))
	require.Equal(t, http.StatusOK, w.Code, "re-announce refreshes")

	w = serve(mux, http.MethodGet, "/lobby", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rooms []models.RoomDescriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)
}

func TestAnnounceRequiresLinkedAccount(t *testing.T) {
	mux, _ := newTestLobby(t)

	w := serve(mux, http.MethodPost, "/lobby", "", roomBody(t, testRoom()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(mux, http.MethodPost, "/lobby", "garbage", roomBody(t, testRoom()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAnnounceCookieToken(t *testing.T) {
	mux, _ := newTestLobby(t)
	token, err := auth.CreateJWT("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/lobby", roomBody(t, testRoom()))
	req.Header.Set("Cookie", "theme=dark; auth_token="+token)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAnnounceRejectsInvalidRoom(t *testing.T) {
	mux, _ := newTestLobby(t)
	token, err := auth.CreateJWT("alice")
	require.NoError(t, err)

	room := testRoom()
	room.PreferredGame = models.GameInfo{}
	w := serve(mux, http.MethodPost, "/lobby", token, roomBody(t, room))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(mux, http.MethodPost, "/lobby", token, bytes.NewBufferString("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelistOwnerOnly(t *testing.T) {
	mux, _ := newTestLobby(t)
	alice, err := auth.CreateJWT("alice")
	require.NoError(t, err)
	mallory, err := auth.CreateJWT("mallory")
	require.NoError(t, err)
	room := testRoom()

	require.Equal(t, http.StatusCreated, serve(mux, http.MethodPost, "/lobby", alice, roomBody(t, room)).Code)

	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodPost, "/lobby", mallory, roomBody(t, room)).Code)
	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodDelete, "/lobby/"+room.ID.String(), mallory, nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, http.MethodDelete, "/lobby/not-a-uuid", alice, nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(mux, http.MethodDelete, "/lobby/"+room.ID.String(), alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodDelete, "/lobby/"+room.ID.String(), alice, nil).Code)
}

func TestPing(t *testing.T) {
	mux, _ := newTestLobby(t)
	w := serve(mux, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/nope", "", nil).Code)
}

func TestExtractCookieToken(t *testing.T) {
	assert.Equal(t, "abc", extractCookieToken("a=1; auth_token=abc; b=2", "auth_token"))
	assert.Equal(t, "", extractCookieToken("a=1", "auth_token"))
}
