package moderation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jason-s-yu/netplay/internal/models"
)

// BanStore persists a room's ban list across restarts.
type BanStore interface {
	Load(ctx context.Context) ([]models.BanEntry, error)
	Save(ctx context.Context, entries []models.BanEntry) error
}

// BanListMagic is the first line of a ban list file.
const BanListMagic = "NetplayRoom-BanList-1"

// ErrInvalidBanList is returned when a ban list file lacks the magic line.
var ErrInvalidBanList = errors.New("ban list is not valid")

// FileStore keeps the ban list in a text file: the magic line, one forum
// username per line, an empty line, then one IP address per line.
type FileStore struct {
	Path string
}

// Load reads the file. A missing file is an empty ban list.
func (s FileStore) Load(ctx context.Context) ([]models.BanEntry, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ban list: %w", err)
	}
	defer f.Close()
	return ReadBanList(f)
}

// ReadBanList parses the ban list text format.
func ReadBanList(r io.Reader) ([]models.BanEntry, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read ban list: %w", err)
		}
		return nil, nil
	}
	if strings.TrimSpace(sc.Text()) != BanListMagic {
		return nil, ErrInvalidBanList
	}

	subject := models.SubjectForumUsername
	var entries []models.BanEntry
	for sc.Scan() {
		line := strings.TrimSpace(strings.ReplaceAll(sc.Text(), "\x00", ""))
		if line == "" {
			subject = models.SubjectIPAddress
			continue
		}
		entries = append(entries, models.BanEntry{SubjectType: subject, SubjectValue: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ban list: %w", err)
	}
	return entries, nil
}

// Save writes the file atomically through a temp file and rename.
func (s FileStore) Save(ctx context.Context, entries []models.BanEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".banlist-*")
	if err != nil {
		return fmt.Errorf("save ban list: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteBanList(tmp, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("save ban list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save ban list: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("save ban list: %w", err)
	}
	return nil
}

// WriteBanList renders entries in the ban list text format. Malformed
// entries are left out; a blank name would end the name section.
func WriteBanList(w io.Writer, entries []models.BanEntry) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, BanListMagic)
	entries = slices.DeleteFunc(slices.Clone(entries), func(e models.BanEntry) bool { return !e.Valid() })
	for _, e := range entries {
		if e.SubjectType == models.SubjectForumUsername {
			fmt.Fprintln(bw, e.SubjectValue)
		}
	}
	fmt.Fprintln(bw)
	for _, e := range entries {
		if e.SubjectType == models.SubjectIPAddress {
			fmt.Fprintln(bw, e.SubjectValue)
		}
	}
	return bw.Flush()
}
