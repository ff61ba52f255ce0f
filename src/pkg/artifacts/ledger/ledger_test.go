package ledger_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/q-controller/imgrelay/src/pkg/artifacts/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T, dir string) *ledger.BadgerLedger {
	l, err := ledger.NewBadgerLedger(dir)
	require.NoError(t, err)
	return l
}

func TestBadgerLedgerRoundTrip(t *testing.T) {
	l := openLedger(t, t.TempDir())
	defer l.Close()

	registeredAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := ledger.Entry{ArtifactID: "a1", Location: "/tmp/a1.webp", RegisteredAt: registeredAt}
	require.NoError(t, l.Put(entry))

	got, err := l.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a1.webp", got.Location)
	assert.True(t, got.RegisteredAt.Equal(registeredAt))

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].ArtifactID)

	require.NoError(t, l.Delete("a1"))
	require.NoError(t, l.Delete("a1"))

	_, err = l.Get("a1")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	entries, err = l.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBadgerLedgerSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")

	first := openLedger(t, dir)
	require.NoError(t, first.Put(ledger.Entry{ArtifactID: "a1", Location: "/tmp/a1.png"}))
	require.NoError(t, first.Put(ledger.Entry{ArtifactID: "a2", Location: "/tmp/a2.png"}))
	require.NoError(t, first.Close())

	second := openLedger(t, dir)
	defer second.Close()

	entries, err := second.List()
	require.NoError(t, err)
	ids := []string{}
	for _, entry := range entries {
		ids = append(ids, entry.ArtifactID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}

func TestBadgerLedgerRejectsEmptyID(t *testing.T) {
	l := openLedger(t, t.TempDir())
	defer l.Close()
	require.Error(t, l.Put(ledger.Entry{Location: "/tmp/x"}))
}
