package testserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/reql"
)

func TestChangelog_RecordsCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.log")
	s, err := New(Options{ChangelogPath: path})
	require.NoError(t, err)
	createUsers(t, s)
	run(t, s, reql.Table("users").Get("bob").Update(map[string]any{"age": 26}))
	run(t, s, reql.Table("users").Get("bob").Update(map[string]any{"age": 26}))
	run(t, s, reql.Table("users").Get("dave").Delete())
	run(t, s, reql.Table("users").Count())
	require.NoError(t, s.Close())

	commits, err := ReadChangelog(path)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	require.Len(t, commits[0].Writes, 4)
	w := commits[0].Writes[0]
	require.Equal(t, "test", w.DB)
	require.Equal(t, "users", w.Table)
	require.Nil(t, w.Old)

	upd := commits[1].Writes[0]
	require.Equal(t, reql.Number(25), upd.Old.(reql.Object)["age"])
	require.Equal(t, reql.Number(26), upd.New.(reql.Object)["age"])

	del := commits[2].Writes[0]
	require.Equal(t, reql.String("dave"), del.Old.(reql.Object)["id"])
	require.Nil(t, del.New)
}

func TestChangelog_TornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.log")
	s, err := New(Options{ChangelogPath: path})
	require.NoError(t, err)
	createUsers(t, s)
	require.NoError(t, s.Close())

	intact, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x20, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	commits, err := ReadChangelog(path)
	require.NoError(t, err)
	require.Len(t, commits, 1)

	// reopening drops the torn bytes and appends after the intact prefix
	s, err = New(Options{ChangelogPath: path})
	require.NoError(t, err)
	run(t, s, reql.TableCreate("teams"))
	run(t, s, reql.Table("teams").Insert(map[string]any{"id": "red"}))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, intact, raw[:len(intact)])

	commits, err = ReadChangelog(path)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.Equal(t, "teams", commits[1].Writes[0].Table)
}

func TestChangelog_DetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.log")
	s, err := New(Options{ChangelogPath: path})
	require.NoError(t, err)
	createUsers(t, s)
	run(t, s, reql.Table("users").Get("alice").Delete())
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	commits, err := ReadChangelog(path)
	require.NoError(t, err)
	require.Len(t, commits, 1)
}
