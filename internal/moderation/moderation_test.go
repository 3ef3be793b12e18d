package moderation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/protocol"
	"github.com/jason-s-yu/netplay/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBroadcaster struct {
	mu           sync.Mutex
	events       []registry.Event
	disconnected map[string]neterr.Code
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{disconnected: map[string]neterr.Code{}}
}

func (m *mockBroadcaster) Publish(ev registry.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockBroadcaster) Disconnect(username string, reason neterr.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected[username] = reason
}

type mockRecorder struct {
	records []Record
	err     error
}

func (m *mockRecorder) Record(_ context.Context, rec Record) error {
	m.records = append(m.records, rec)
	return m.err
}

func join(t *testing.T, reg *registry.Registry, username, consoleID, ip string) models.Member {
	t.Helper()
	m, err := reg.Admit(registry.Candidate{
		Request:   protocol.JoinRequest{Username: username, ConsoleID: consoleID, Version: protocol.Version},
		IPAddress: ip,
	})
	require.NoError(t, err)
	return m
}

func setup(t *testing.T) (*registry.Registry, *Engine, *mockBroadcaster, *mockRecorder) {
	t.Helper()
	reg := registry.New(models.RoomInfo{ID: uuid.New(), Name: "TestRoom", MaxPlayers: 8}, "")
	join(t, reg, "HostUser", "host-console", "10.0.0.1")
	require.NoError(t, reg.SetHost("HostUser"))
	join(t, reg, "Player1", "console-1", "10.0.0.2")
	join(t, reg, "Player2", "console-2", "10.0.0.3")

	out := newMockBroadcaster()
	rec := &mockRecorder{}
	logger, _ := test.NewNullLogger()
	return reg, NewEngine(reg, out, rec, logger), out, rec
}

func TestAuthorize(t *testing.T) {
	snap := models.Snapshot{
		Info:    models.RoomInfo{Host: "HostUser"},
		Members: []models.Member{{Username: "HostUser"}, {Username: "Player1"}},
	}
	assert.NoError(t, Authorize("HostUser", snap))
	assert.True(t, neterr.Is(Authorize("Player1", snap), neterr.PermissionDenied))
	assert.True(t, neterr.Is(Authorize("", snap), neterr.PermissionDenied))

	// A host that already left has no rights.
	snap.Members = snap.Members[1:]
	assert.True(t, neterr.Is(Authorize("HostUser", snap), neterr.PermissionDenied))

	// Dedicated rooms without a host member have no moderator.
	assert.True(t, neterr.Is(Authorize("Player1", models.Snapshot{Members: []models.Member{{Username: "Player1"}}}), neterr.PermissionDenied))
}

func TestKick(t *testing.T) {
	reg, eng, out, rec := setup(t)

	require.NoError(t, eng.Kick("HostUser", "Player1"))

	_, ok := reg.Member("Player1")
	assert.False(t, ok)
	assert.Empty(t, reg.BanList())
	assert.Equal(t, []registry.Event{registry.MemberKicked{Username: "Player1"}}, out.events)
	assert.Equal(t, neterr.Kicked, out.disconnected["Player1"])
	require.Len(t, rec.records, 1)
	assert.Equal(t, ActionKick, rec.records[0].Action)
	assert.Equal(t, reg.Info().ID.String(), rec.records[0].RoomID)
}

func TestKickByNonHost(t *testing.T) {
	reg, eng, out, _ := setup(t)
	before := reg.Snapshot().Members

	err := eng.Kick("Player1", "Player2")
	assert.Equal(t, neterr.PermissionDenied, neterr.Classify(err))
	assert.Equal(t, before, reg.Snapshot().Members)
	assert.Empty(t, out.events)
	assert.Empty(t, out.disconnected)
}

func TestKickSelfAndMissingTarget(t *testing.T) {
	_, eng, out, _ := setup(t)

	assert.Equal(t, neterr.PermissionDenied, neterr.Classify(eng.Kick("HostUser", "HostUser")))
	assert.Equal(t, neterr.TargetNotFound, neterr.Classify(eng.Kick("HostUser", "Ghost")))
	assert.Equal(t, neterr.TargetNotFound, neterr.Classify(eng.Ban("HostUser", "Ghost")))
	assert.Empty(t, out.events)
}

func TestBanProducesTwoEntriesAndBlocksRejoin(t *testing.T) {
	reg, eng, out, _ := setup(t)

	require.NoError(t, eng.Ban("HostUser", "Player1"))

	_, ok := reg.Member("Player1")
	assert.False(t, ok)
	assert.Equal(t, []models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "console-1"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "10.0.0.2"},
	}, reg.BanList())
	assert.Equal(t, []registry.Event{registry.MemberBanned{Username: "Player1"}}, out.events)
	assert.Equal(t, neterr.HostKickedBan, out.disconnected["Player1"])

	// Same console, new IP, wrong version: rejected as banned before the version check.
	_, err := reg.Admit(registry.Candidate{
		Request:   protocol.JoinRequest{Username: "Player1", ConsoleID: "console-1", Version: 1},
		IPAddress: "172.16.0.9",
	})
	assert.Equal(t, neterr.HostKickedBan, neterr.Classify(err))

	// New console, same IP.
	_, err = reg.Admit(registry.Candidate{
		Request:   protocol.JoinRequest{Username: "Player1", ConsoleID: "console-new", Version: protocol.Version},
		IPAddress: "10.0.0.2",
	})
	assert.Equal(t, neterr.HostKickedBan, neterr.Classify(err))
}

func TestBanOfVerifiedMemberCoversConsoleID(t *testing.T) {
	reg, eng, _, _ := setup(t)
	_, err := reg.Admit(registry.Candidate{
		Request:       protocol.JoinRequest{Username: "Linked1", ConsoleID: "console-9", Version: protocol.Version},
		IPAddress:     "10.0.0.9",
		ForumUsername: "linked_account",
	})
	require.NoError(t, err)

	require.NoError(t, eng.Ban("HostUser", "Linked1"))
	assert.Equal(t, []models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "console-9"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "10.0.0.9"},
	}, reg.BanList())

	// Same console from a new address and without an account token.
	_, err = reg.Admit(registry.Candidate{
		Request:   protocol.JoinRequest{Username: "Linked1", ConsoleID: "console-9", Version: protocol.Version},
		IPAddress: "10.0.0.99",
	})
	assert.Equal(t, neterr.HostKickedBan, neterr.Classify(err))

	// Forum names from a loaded list still match verified members.
	reg.AddBan(models.BanEntry{SubjectType: models.SubjectForumUsername, SubjectValue: "Other_Account"})
	assert.True(t, reg.IsBanned("other-console", "other_account", "1.2.3.4"))
}

func TestBannedListSurvivesFileRoundTrip(t *testing.T) {
	reg, eng, _, _ := setup(t)
	require.NoError(t, eng.Ban("HostUser", "Player1"))
	// A malformed entry never reaches the list.
	assert.Equal(t, 1, reg.AddBan(models.BanEntry{SubjectType: models.SubjectForumUsername, SubjectValue: ""}))

	var buf bytes.Buffer
	require.NoError(t, WriteBanList(&buf, append(reg.BanList(),
		models.BanEntry{SubjectType: models.SubjectForumUsername, SubjectValue: ""})))
	entries, err := ReadBanList(&buf)
	require.NoError(t, err)

	reloaded := registry.New(reg.Info(), "")
	assert.Zero(t, reloaded.ReplaceBans(entries))
	assert.True(t, reloaded.IsBanned("console-1", "", ""))
	assert.True(t, reloaded.IsBanned("", "", "10.0.0.2"))
}

func TestUnban(t *testing.T) {
	reg, eng, out, _ := setup(t)
	require.NoError(t, eng.Ban("HostUser", "Player1"))
	ipEntry := models.BanEntry{SubjectType: models.SubjectIPAddress, SubjectValue: "10.0.0.2"}

	assert.Equal(t, neterr.PermissionDenied, neterr.Classify(eng.Unban("Player2", ipEntry)))
	assert.Len(t, reg.BanList(), 2)

	require.NoError(t, eng.Unban("HostUser", ipEntry))
	assert.Len(t, reg.BanList(), 1)
	assert.Equal(t, registry.MemberUnbanned{Entry: ipEntry}, out.events[len(out.events)-1])

	assert.Equal(t, neterr.TargetNotFound, neterr.Classify(eng.Unban("HostUser", ipEntry)))
}

func TestBanListRequiresHost(t *testing.T) {
	_, eng, _, _ := setup(t)
	require.NoError(t, eng.Ban("HostUser", "Player2"))

	list, err := eng.BanList("HostUser")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = eng.BanList("Player1")
	assert.Equal(t, neterr.PermissionDenied, neterr.Classify(err))
}

func TestLoadBanListSkipsMalformed(t *testing.T) {
	reg, eng, _, rec := setup(t)
	skipped := eng.LoadBanList([]models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "old_user"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "999.1.1.1"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "10.9.9.9"},
	})
	assert.Equal(t, 1, skipped)
	assert.Len(t, reg.BanList(), 2)
	require.NotEmpty(t, rec.records)
	assert.Equal(t, ActionLoadBan, rec.records[len(rec.records)-1].Action)
}

func TestRecorderFailureDoesNotUndoAction(t *testing.T) {
	reg, _, out, rec := setup(t)
	rec.err = errors.New("redis down")
	logger, hook := test.NewNullLogger()
	eng := NewEngine(reg, out, rec, logger)

	require.NoError(t, eng.Kick("HostUser", "Player2"))
	_, ok := reg.Member("Player2")
	assert.False(t, ok)
	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}
