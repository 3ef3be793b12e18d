package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/moderation"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRoom(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "TestRoom"
	}
	opts.BindAddress = "127.0.0.1"
	if opts.Logger == nil {
		opts.Logger, _ = test.NewNullLogger()
	}
	srv, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close(ctx)
	})
	return srv
}

func roomURL(srv *Server) string {
	return "ws://" + srv.Addr().String() + protocol.RoomPath
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, roomURL(srv), &websocket.DialOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, msgType string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(msgType, payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, frame))
}

func read(c *websocket.Conn) (protocol.Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(data)
}

// readUntil skips frames until one of msgType arrives.
func readUntil(t *testing.T, c *websocket.Conn, msgType string) protocol.Envelope {
	t.Helper()
	for {
		env, err := read(c)
		require.NoError(t, err, "waiting for %s", msgType)
		if env.Type == msgType {
			return env
		}
	}
}

// readClose reads until the server closes the socket and returns the status.
func readClose(t *testing.T, c *websocket.Conn) websocket.StatusCode {
	t.Helper()
	for {
		if _, err := read(c); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func joinReq(username, console string) protocol.JoinRequest {
	return protocol.JoinRequest{Username: username, ConsoleID: console, Version: protocol.Version}
}

func join(t *testing.T, srv *Server, req protocol.JoinRequest) (*websocket.Conn, protocol.JoinAccepted) {
	t.Helper()
	c := dial(t, srv)
	send(t, c, protocol.TypeJoinRequest, req)
	env, err := read(c)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeJoinAccepted, env.Type, string(env.Payload))
	var acc protocol.JoinAccepted
	require.NoError(t, env.Into(&acc))
	return c, acc
}

func joinHost(t *testing.T, srv *Server) (*websocket.Conn, protocol.JoinAccepted) {
	t.Helper()
	req := joinReq("HostUser", "console-host")
	req.HostToken = srv.HostToken()
	return join(t, srv, req)
}

func rejectedWith(t *testing.T, srv *Server, req protocol.JoinRequest) neterr.Code {
	t.Helper()
	c := dial(t, srv)
	send(t, c, protocol.TypeJoinRequest, req)
	env, err := read(c)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeJoinRejected, env.Type)
	var rej protocol.JoinRejected
	require.NoError(t, env.Into(&rej))
	assert.Equal(t, neterr.CloseJoinRejected, readClose(t, c))
	return rej.Code
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Name: "x"})
	assert.True(t, neterr.Is(err, neterr.RoomNameNotValid))

	_, err = New(Options{Name: "TestRoom", Port: 70000})
	assert.True(t, neterr.Is(err, neterr.PortNotValid))

	_, err = New(Options{Name: "TestRoom", Visibility: models.VisibilityPublic})
	assert.True(t, neterr.Is(err, neterr.NoPreferredGame))

	_, err = New(Options{Name: "TestRoom", MaxMembers: 300})
	assert.True(t, neterr.Is(err, neterr.CouldNotCreateRoom))

	srv, err := New(Options{Name: "TestRoom"})
	require.NoError(t, err)
	assert.Equal(t, 16, srv.Snapshot().Info.MaxPlayers)
	assert.Equal(t, models.VisibilityUnlisted, srv.Snapshot().Info.Visibility)
	assert.Nil(t, srv.Addr())
	require.NoError(t, srv.Close(context.Background()))
	assert.ErrorIs(t, srv.Start(), ErrClosed)
}

func TestJoinAndChat(t *testing.T) {
	srv := startRoom(t, Options{})
	host, acc := joinHost(t, srv)
	assert.Equal(t, "HostUser", acc.Snapshot.Info.Host)
	assert.Len(t, acc.Snapshot.Members, 1)
	assert.Equal(t, "127.0.0.1", acc.Member.IPAddress)

	player, acc := join(t, srv, joinReq("Player1", "console-1"))
	assert.Len(t, acc.Snapshot.Members, 2)
	for _, m := range acc.Snapshot.Members {
		assert.Empty(t, m.IPAddress, "snapshot hides member addresses")
	}
	assert.Empty(t, acc.Snapshot.BanList)

	env := readUntil(t, host, protocol.TypeMemberJoined)
	var mj protocol.MemberJoined
	require.NoError(t, env.Into(&mj))
	assert.Equal(t, "Player1", mj.Member.Username)
	assert.Empty(t, mj.Member.IPAddress)

	send(t, player, protocol.TypeChat, protocol.Chat{Message: "hello"})
	for _, c := range []*websocket.Conn{host, player} {
		env := readUntil(t, c, protocol.TypeChat)
		var msg protocol.Chat
		require.NoError(t, env.Into(&msg))
		assert.Equal(t, "Player1", msg.Username)
		assert.Equal(t, "hello", msg.Message)
	}

	assert.Equal(t, 2, srv.Descriptor("127.0.0.1").CurrentPlayers)
}

func TestJoinRejections(t *testing.T) {
	srv := startRoom(t, Options{MaxMembers: 2, Password: "hunter2"})

	req := joinReq("HostUser", "console-host")
	req.Password = "hunter2"
	req.HostToken = srv.HostToken()
	join(t, srv, req)

	wrong := joinReq("Player1", "console-1")
	wrong.Password = "nope"
	assert.Equal(t, neterr.WrongPassword, rejectedWith(t, srv, wrong))

	taken := joinReq("HostUser", "console-2")
	taken.Password = "hunter2"
	assert.Equal(t, neterr.UsernameNotValidServer, rejectedWith(t, srv, taken))

	old := joinReq("Player1", "console-1")
	old.Password = "hunter2"
	old.Version = protocol.Version - 1
	assert.Equal(t, neterr.VersionMismatch, rejectedWith(t, srv, old))

	dup := joinReq("Player1", "console-host")
	dup.Password = "hunter2"
	assert.Equal(t, neterr.ConsoleIDCollision, rejectedWith(t, srv, dup))

	ok := joinReq("Player1", "console-1")
	ok.Password = "hunter2"
	join(t, srv, ok)

	full := joinReq("Player2", "console-2")
	full.Password = "hunter2"
	assert.Equal(t, neterr.RoomIsFull, rejectedWith(t, srv, full))
}

func TestBadSubprotocol(t *testing.T) {
	srv := startRoom(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, roomURL(srv), nil)
	require.NoError(t, err)
	defer c.CloseNow()
	assert.Equal(t, neterr.CloseBadSubprotocol, readClose(t, c))
}

func TestHandshakeTimeout(t *testing.T) {
	srv := startRoom(t, Options{HandshakeTimeout: 100 * time.Millisecond})
	c := dial(t, srv)
	assert.Equal(t, neterr.CloseHandshake, readClose(t, c))
}

func TestFirstFrameMustBeJoin(t *testing.T) {
	srv := startRoom(t, Options{})
	c := dial(t, srv)
	send(t, c, protocol.TypeChat, protocol.Chat{Message: "hi"})
	assert.Equal(t, neterr.CloseHandshake, readClose(t, c))
}

func TestGameDataRelay(t *testing.T) {
	srv := startRoom(t, Options{})
	reqA := joinReq("HostUser", "console-a")
	reqA.HostToken = srv.HostToken()
	reqA.PreferredMAC = "02:00:00:00:00:0A"
	a, accA := join(t, srv, reqA)
	assert.Equal(t, "02:00:00:00:00:0a", accA.Member.MACAddress)

	reqB := joinReq("PlayerB", "console-b")
	reqB.PreferredMAC = "02:00:00:00:00:0b"
	b, _ := join(t, srv, reqB)

	reqC := joinReq("PlayerC", "console-c")
	reqC.PreferredMAC = "02:00:00:00:00:0b"
	assert.Equal(t, neterr.MacCollision, rejectedWith(t, srv, reqC))
	reqC.PreferredMAC = "02:00:00:00:00:0c"
	c, _ := join(t, srv, reqC)

	// Directed: only B sees it.
	send(t, a, protocol.TypeGameData, protocol.GameData{Destination: "02:00:00:00:00:0b", Channel: 1, Data: []byte{1, 2, 3}})
	env := readUntil(t, b, protocol.TypeGameData)
	var gd protocol.GameData
	require.NoError(t, env.Into(&gd))
	assert.Equal(t, "02:00:00:00:00:0a", gd.Source)
	assert.Equal(t, []byte{1, 2, 3}, gd.Data)

	// Broadcast: B and C see it, the sender does not.
	send(t, a, protocol.TypeGameData, protocol.GameData{Destination: models.BroadcastMAC, Data: []byte{9}})
	for _, conn := range []*websocket.Conn{b, c} {
		env := readUntil(t, conn, protocol.TypeGameData)
		var gd protocol.GameData
		require.NoError(t, env.Into(&gd))
		assert.Equal(t, []byte{9}, gd.Data)
	}
}

func TestUpdateGame(t *testing.T) {
	srv := startRoom(t, Options{})
	host, _ := joinHost(t, srv)
	player, _ := join(t, srv, joinReq("Player1", "console-1"))

	game := models.GameInfo{Name: "Mario Kart 7", ID: 0x30433}
	send(t, player, protocol.TypeUpdateGame, protocol.UpdateGame{Game: game})
	env := readUntil(t, host, protocol.TypeGameChanged)
	var gc protocol.GameChanged
	require.NoError(t, env.Into(&gc))
	assert.Equal(t, "Player1", gc.Username)
	assert.Equal(t, game, gc.Game)

	m, ok := srv.Snapshot().Member("Player1")
	require.True(t, ok)
	assert.Equal(t, game, m.Game)
}

func modResult(t *testing.T, c *websocket.Conn) protocol.ModResult {
	t.Helper()
	env := readUntil(t, c, protocol.TypeModResult)
	var res protocol.ModResult
	require.NoError(t, env.Into(&res))
	return res
}

func TestKick(t *testing.T) {
	srv := startRoom(t, Options{})
	host, _ := joinHost(t, srv)
	player, _ := join(t, srv, joinReq("Player1", "console-1"))
	other, _ := join(t, srv, joinReq("Player2", "console-2"))

	send(t, player, protocol.TypeModKick, protocol.ModRequest{RequestID: "r1", Username: "Player2"})
	res := modResult(t, player)
	assert.Equal(t, "r1", res.RequestID)
	assert.False(t, res.OK)
	assert.Equal(t, neterr.PermissionDenied, res.Code)

	send(t, host, protocol.TypeModKick, protocol.ModRequest{RequestID: "r2", Username: "Nobody"})
	assert.Equal(t, neterr.TargetNotFound, modResult(t, host).Code)

	send(t, host, protocol.TypeModKick, protocol.ModRequest{RequestID: "r3", Username: "HostUser"})
	assert.Equal(t, neterr.PermissionDenied, modResult(t, host).Code)

	send(t, host, protocol.TypeModKick, protocol.ModRequest{RequestID: "r4", Username: "Player2"})
	res = modResult(t, host)
	assert.True(t, res.OK)
	assert.Equal(t, neterr.CloseKicked, readClose(t, other))

	env := readUntil(t, player, protocol.TypeMemberKicked)
	var mr protocol.MemberRemoved
	require.NoError(t, env.Into(&mr))
	assert.Equal(t, "Player2", mr.Username)

	_, ok := srv.Snapshot().Member("Player2")
	assert.False(t, ok)
	assert.Empty(t, srv.BanList())

	// A kick is not a ban.
	join(t, srv, joinReq("Player2", "console-2"))
}

func TestBanBlocksRejoin(t *testing.T) {
	srv := startRoom(t, Options{})
	host, _ := joinHost(t, srv)
	player, _ := join(t, srv, joinReq("Player1", "console-1"))

	send(t, host, protocol.TypeModBan, protocol.ModRequest{RequestID: "b1", Username: "Player1"})
	assert.True(t, modResult(t, host).OK)
	assert.Equal(t, neterr.CloseBanned, readClose(t, player))

	bans := srv.BanList()
	require.Len(t, bans, 2)
	assert.Contains(t, bans, models.BanEntry{SubjectType: models.SubjectForumUsername, SubjectValue: "console-1"})
	assert.Contains(t, bans, models.BanEntry{SubjectType: models.SubjectIPAddress, SubjectValue: "127.0.0.1"})

	// Same address, fresh console ID.
	assert.Equal(t, neterr.HostKickedBan, rejectedWith(t, srv, joinReq("Player1", "console-9")))

	send(t, host, protocol.TypeModGetBanList, protocol.ModGetBanList{RequestID: "l1"})
	env := readUntil(t, host, protocol.TypeBanList)
	var bl protocol.BanList
	require.NoError(t, env.Into(&bl))
	assert.Equal(t, "l1", bl.RequestID)
	assert.ElementsMatch(t, bans, bl.Entries)

	for _, e := range bans {
		send(t, host, protocol.TypeModUnban, protocol.ModUnban{RequestID: "u", Entry: e})
		assert.True(t, modResult(t, host).OK)
	}
	send(t, host, protocol.TypeModUnban, protocol.ModUnban{RequestID: "u", Entry: bans[0]})
	assert.Equal(t, neterr.TargetNotFound, modResult(t, host).Code)

	join(t, srv, joinReq("Player1", "console-1"))
}

func TestBanListRequiresHost(t *testing.T) {
	srv := startRoom(t, Options{})
	joinHost(t, srv)
	player, _ := join(t, srv, joinReq("Player1", "console-1"))

	send(t, player, protocol.TypeModGetBanList, protocol.ModGetBanList{RequestID: "x"})
	res := modResult(t, player)
	assert.False(t, res.OK)
	assert.Equal(t, neterr.PermissionDenied, res.Code)
}

func TestCloseNotifiesMembersAndSavesBans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.banlist")
	seed := []models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "griefer"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "not-an-ip"},
	}
	srv := startRoom(t, Options{BanList: seed, BanStore: &moderation.FileStore{Path: path}})
	assert.Len(t, srv.BanList(), 1, "malformed entries are skipped")

	player, _ := join(t, srv, joinReq("Player1", "console-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- srv.Close(ctx) }()

	readUntil(t, player, protocol.TypeRoomClosed)
	assert.Equal(t, neterr.CloseRoomClosed, readClose(t, player))
	require.NoError(t, <-closed)

	saved, err := (&moderation.FileStore{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seed[:1], saved)

	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestHostLeavingClosesRoom(t *testing.T) {
	srv := startRoom(t, Options{})
	host, _ := joinHost(t, srv)
	player, _ := join(t, srv, joinReq("Player1", "console-1"))

	host.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("room stayed open after the host left")
	}
	assert.Equal(t, neterr.CloseRoomClosed, readClose(t, player))
}

func TestRemoteIP(t *testing.T) {
	assert.Equal(t, "127.0.0.1", remoteIP("127.0.0.1:5000"))
	assert.Equal(t, "10.0.0.1", remoteIP("[::ffff:10.0.0.1]:5000"))
	assert.Equal(t, "::1", remoteIP("[::1]:5000"))
}
