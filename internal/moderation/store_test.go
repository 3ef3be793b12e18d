package moderation

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBanList(t *testing.T) {
	in := "NetplayRoom-BanList-1\nalice\n  bob  \n\n10.0.0.1\n\x00192.168.0.2\n"
	entries, err := ReadBanList(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "alice"},
		{SubjectType: models.SubjectForumUsername, SubjectValue: "bob"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "10.0.0.1"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "192.168.0.2"},
	}, entries)

	_, err = ReadBanList(strings.NewReader("NotABanList\nalice\n"))
	assert.ErrorIs(t, err, ErrInvalidBanList)

	entries, err = ReadBanList(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteBanListGroupsBySubject(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBanList(&buf, []models.BanEntry{
		{SubjectType: models.SubjectIPAddress, SubjectValue: "10.0.0.1"},
		{SubjectType: models.SubjectForumUsername, SubjectValue: "alice"},
	}))
	assert.Equal(t, "NetplayRoom-BanList-1\nalice\n\n10.0.0.1\n", buf.String())
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store := FileStore{Path: filepath.Join(t.TempDir(), "bans.txt")}

	entries, err := store.Load(ctx)
	require.NoError(t, err, "missing file is an empty list")
	assert.Empty(t, entries)

	want := []models.BanEntry{
		{SubjectType: models.SubjectForumUsername, SubjectValue: "alice"},
		{SubjectType: models.SubjectIPAddress, SubjectValue: "10.0.0.1"},
	}
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(store.Path, []byte("garbage\n"), 0o644))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrInvalidBanList)
}
