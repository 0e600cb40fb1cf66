package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/vm"
)

const countdown = "LOAD 3\ntop:\nPRINT\nSUB 1\nCMP 0\nJGT top\nHALT"

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProgramCache(t *testing.T) {
	s := openTemp(t)

	p, cached, err := s.Parse(countdown)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.True(t, p.Valid)

	again, cached, err := s.Parse(countdown)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, p.ID, again.ID)
	assert.True(t, emoji.Equivalent(p.Instructions, again.Instructions))
	assert.Equal(t, p.Labels, again.Labels)

	infos, err := s.Programs()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].Uses)
	assert.True(t, infos[0].Valid)

	_, err = s.LoadProgram("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidProgramsAreCachedWithDiagnostics(t *testing.T) {
	s := openTemp(t)
	p, _, err := s.Parse("LOAD\nJUMP nowhere")
	require.NoError(t, err)
	require.False(t, p.Valid)

	back, err := s.LoadProgram(p.ID)
	require.NoError(t, err)
	assert.False(t, back.Valid)
	assert.Len(t, back.Diagnostics, len(p.Diagnostics))
}

func TestCorruptProgramIsReparsed(t *testing.T) {
	s := openTemp(t)
	p, _, err := s.Parse(countdown)
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE programs SET record = '{"schemaVersion": 1}' WHERE id = ?`, p.ID)
	require.NoError(t, err)
	_, err = s.LoadProgram(p.ID)
	assert.ErrorIs(t, err, ErrCorrupt)

	again, cached, err := s.Parse(countdown)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.True(t, again.Valid)

	_, err = s.LoadProgram(p.ID)
	assert.NoError(t, err)
}

func runToEnd(t *testing.T, source string) *vm.Snapshot {
	t.Helper()
	m := vm.New()
	require.NoError(t, m.Load(emoji.Parse(source), vm.DefaultLimits()))
	_, _ = m.RunToEnd(context.Background())
	return m.Snapshot()
}

func TestRunRoundTrip(t *testing.T) {
	s := openTemp(t)
	tests := []string{
		countdown,
		"PUSH 5\nLOOP 2\nCALL sub\nRETURN\nHALT\nsub:\nSTORE 7\nRETURN",
		"LOAD 10\nDIV 0",
		"INPUT\nPRINT",
	}
	for _, source := range tests {
		snap := runToEnd(t, source)
		require.NoError(t, s.SaveRun(snap))

		back, report, err := s.LoadRun(snap.RunID)
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, snap.RunID, back.RunID)
		assert.True(t, snap.Equal(back), "snapshot of %q changed in storage", source)
	}
}

func TestSaveRunReplaces(t *testing.T) {
	s := openTemp(t)
	m := vm.New()
	require.NoError(t, m.Load(emoji.Parse(countdown), vm.DefaultLimits()))

	require.NoError(t, m.Step())
	require.NoError(t, s.SaveRun(m.Snapshot()))
	_, err := m.RunToEnd(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.SaveRun(m.Snapshot()))

	runs, err := s.Runs("", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "HALTED", runs[0].Status)
	assert.Equal(t, m.Snapshot().Stats.Cycles, runs[0].Cycles)
}

func TestRunErrors(t *testing.T) {
	s := openTemp(t)

	err := s.SaveRun(&vm.Snapshot{})
	assert.ErrorIs(t, err, ErrNoRunID)

	_, _, err = s.LoadRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	snap := runToEnd(t, countdown)
	require.NoError(t, s.SaveRun(snap))
	_, err = s.db.Exec(`UPDATE runs SET snapshot = '{"schemaVersion":1,"cpu":{"registers":[1,2]},"status":"HALTED"}' WHERE id = ?`, snap.RunID)
	require.NoError(t, err)

	_, report, err := s.LoadRun(snap.RunID)
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.False(t, report.OK())
}

func TestRunsListingAndPrune(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	a := runToEnd(t, countdown)
	b := runToEnd(t, countdown)
	c := runToEnd(t, "LOAD 1\nPRINT\nHALT")
	for _, snap := range []*vm.Snapshot{a, b, c} {
		clock = clock.Add(time.Minute)
		require.NoError(t, s.SaveRun(snap))
	}

	runs, err := s.Runs(a.ProgramID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, b.RunID, runs[0].ID)
	assert.Equal(t, a.RunID, runs[1].ID)

	runs, err = s.Runs("", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, c.RunID, runs[0].ID)

	n, err := s.PruneRuns(base.Add(150 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err = s.Runs("", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, c.RunID, runs[0].ID)
}
