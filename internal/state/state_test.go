package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okxquant/internal/risk"
	"okxquant/internal/strategy"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewStore(path)

	cp := Checkpoint{
		Risk: risk.DailyState{Date: "2026-08-29", TradesCount: 3, DailyPnL: 42.5},
		Positions: map[string]strategy.Position{
			"trend_long": {Status: strategy.InPosition, EntryPrice: 100, StopPrice: 98, Size: 0.35},
		},
	}
	require.NoError(t, store.Save(cp))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, loaded.Risk.TradesCount)
	assert.InDelta(t, 42.5, loaded.Risk.DailyPnL, 1e-9)
	assert.Equal(t, strategy.InPosition, loaded.Positions["trend_long"].Status)
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadCorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, _, err := NewStore(path).Load()
	assert.Error(t, err)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	require.NoError(t, NewStore(path).Save(Checkpoint{}))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
