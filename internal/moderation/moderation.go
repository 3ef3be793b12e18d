// Package moderation applies host-only kick, ban and unban actions to a room
// registry and reports their results to the room.
package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/jason-s-yu/netplay/internal/registry"
	"github.com/sirupsen/logrus"
)

// Action names a moderation action in audit records.
type Action string

const (
	ActionKick    Action = "kick"
	ActionBan     Action = "ban"
	ActionUnban   Action = "unban"
	ActionLoadBan Action = "load_ban_list"
)

// Broadcaster delivers moderation results to the room.
type Broadcaster interface {
	// Publish sends an event to every remaining member.
	Publish(ev registry.Event)
	// Disconnect drops a removed member's connection with reason code.
	Disconnect(username string, reason neterr.Code)
}

// Record is one audited moderation action.
type Record struct {
	RoomID  string            `json:"room_id"`
	Action  Action            `json:"action"`
	Actor   string            `json:"actor"`
	Target  string            `json:"target,omitempty"`
	Entries []models.BanEntry `json:"entries,omitempty"`
	At      time.Time         `json:"at"`
}

// Recorder stores audit records. Failures are logged and never undo the
// action.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Authorize allows actor to moderate only if actor is the room's host and is
// still a member.
func Authorize(actor string, snap models.Snapshot) error {
	if actor == "" || !snap.IsHost(actor) {
		return neterr.New(neterr.PermissionDenied, "authorize")
	}
	return nil
}

const recordTimeout = 2 * time.Second

// Engine mutates the ban list and membership of one room. Like the registry
// it wraps, an Engine must only be used from the room's worker goroutine.
type Engine struct {
	reg *registry.Registry
	out Broadcaster
	rec Recorder
	log logrus.FieldLogger
	now func() time.Time
}

// NewEngine returns an engine. rec and log may be nil.
func NewEngine(reg *registry.Registry, out Broadcaster, rec Recorder, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{reg: reg, out: out, rec: rec, log: log, now: time.Now}
}

// Kick removes target from the room. The ban list is untouched.
func (e *Engine) Kick(actor, target string) error {
	m, err := e.remove("kick", actor, target)
	if err != nil {
		return err
	}
	e.out.Disconnect(m.Username, neterr.Kicked)
	e.out.Publish(registry.MemberKicked{Username: m.Username})
	e.record(Record{Action: ActionKick, Actor: actor, Target: m.Username})
	e.log.WithFields(logrus.Fields{"actor": actor, "member": m.Username}).Info("member kicked")
	return nil
}

// Ban removes target and appends a ForumUsername entry holding its console ID
// and an IPAddress entry.
func (e *Engine) Ban(actor, target string) error {
	m, err := e.remove("ban", actor, target)
	if err != nil {
		return err
	}
	entries := models.BanEntriesFor(m)
	if skipped := e.reg.AddBan(entries...); skipped > 0 {
		e.log.WithFields(logrus.Fields{"member": m.Username, "skipped": skipped}).Warn("ban entries skipped as malformed")
	}
	e.out.Disconnect(m.Username, neterr.HostKickedBan)
	e.out.Publish(registry.MemberBanned{Username: m.Username})
	e.record(Record{Action: ActionBan, Actor: actor, Target: m.Username, Entries: entries})
	e.log.WithFields(logrus.Fields{"actor": actor, "member": m.Username}).Info("member banned")
	return nil
}

func (e *Engine) remove(op, actor, target string) (models.Member, error) {
	if err := Authorize(actor, e.reg.Snapshot()); err != nil {
		return models.Member{}, neterr.New(neterr.PermissionDenied, op)
	}
	if actor == target {
		return models.Member{}, neterr.New(neterr.PermissionDenied, op)
	}
	m, err := e.reg.Remove(target)
	if errors.Is(err, registry.ErrNotFound) {
		return models.Member{}, neterr.Wrap(neterr.TargetNotFound, op, err)
	}
	if err != nil {
		return models.Member{}, neterr.Wrap(neterr.UnknownError, op, err)
	}
	return m, nil
}

// Unban removes every entry equal to entry.
func (e *Engine) Unban(actor string, entry models.BanEntry) error {
	if err := Authorize(actor, e.reg.Snapshot()); err != nil {
		return neterr.New(neterr.PermissionDenied, "unban")
	}
	if err := e.reg.RemoveBan(entry); err != nil {
		return neterr.Wrap(neterr.TargetNotFound, "unban", err)
	}
	e.out.Publish(registry.MemberUnbanned{Entry: entry})
	e.record(Record{Action: ActionUnban, Actor: actor, Entries: []models.BanEntry{entry}})
	e.log.WithFields(logrus.Fields{"actor": actor, "subject": entry.SubjectValue}).Info("ban entry removed")
	return nil
}

// BanList returns the current ban list to the host.
func (e *Engine) BanList(actor string) ([]models.BanEntry, error) {
	if err := Authorize(actor, e.reg.Snapshot()); err != nil {
		return nil, err
	}
	return e.reg.BanList(), nil
}

// LoadBanList replaces the ban list with a previously saved one. Malformed
// entries are skipped and counted.
func (e *Engine) LoadBanList(entries []models.BanEntry) int {
	skipped := e.reg.ReplaceBans(entries)
	if skipped > 0 {
		e.log.WithField("skipped", skipped).Warn("skipped malformed ban list entries")
	}
	e.record(Record{Action: ActionLoadBan, Entries: e.reg.BanList()})
	return skipped
}

func (e *Engine) record(rec Record) {
	if e.rec == nil {
		return
	}
	rec.RoomID = e.reg.Info().ID.String()
	rec.At = e.now()
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := e.rec.Record(ctx, rec); err != nil {
		e.log.WithError(err).WithField("action", rec.Action).Warn("failed to record moderation action")
	}
}
