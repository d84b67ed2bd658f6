package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"lexicon-go/internal/model"
	"lexicon-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore 在第 failOn 次 AppendBatch 时返回错误。
type failingStore struct {
	repository.RecordStore
	calls  int
	failOn int
}

func (s *failingStore) AppendBatch(ctx context.Context, records []model.LabelRecord) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("disk full")
	}
	return s.RecordStore.AppendBatch(ctx, records)
}

func record(id string) model.LabelRecord {
	return model.LabelRecord{EquipmentID: id, EquipmentName: "n" + id, AllLabels: []string{"gold"}}
}

func TestCheckpointWriter_FlushesAtBatchSize(t *testing.T) {
	ctx := context.Background()
	store := repository.NewCSVStore(filepath.Join(t.TempDir(), "out.csv"))

	var seen []model.CommittedBatch
	w := NewCheckpointWriter(store, 2, "run-1", BatchObserverFunc(func(ctx context.Context, b model.CommittedBatch) error {
		seen = append(seen, b)
		return errors.New("observer errors are not fatal")
	}))
	require.NoError(t, w.Open(ctx))

	require.NoError(t, w.Add(ctx, record("1")))
	assert.Equal(t, 1, w.Pending())
	require.NoError(t, w.Add(ctx, record("2")))
	assert.Equal(t, 0, w.Pending())
	require.NoError(t, w.Add(ctx, record("3")))
	require.NoError(t, w.Close(ctx))

	assert.Equal(t, 2, w.Batches())
	assert.Equal(t, 3, w.Written())
	require.Len(t, seen, 2)
	assert.Equal(t, []string{"1", "2"}, seen[0].IDs())
	assert.Equal(t, 2, seen[1].Seq)
	assert.Equal(t, "run-1", seen[1].RunID)
	assert.Equal(t, "csv", seen[1].Store)
	assert.True(t, w.IsCommitted("3"))

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestCheckpointWriter_OpenLoadsCommittedIDs(t *testing.T) {
	ctx := context.Background()
	store := repository.NewCSVStore(filepath.Join(t.TempDir(), "out.csv"))
	require.NoError(t, store.AppendBatch(ctx, []model.LabelRecord{record("9")}))

	w := NewCheckpointWriter(store, 50, "run")
	require.NoError(t, w.Open(ctx))
	assert.True(t, w.IsCommitted("9"))
	assert.False(t, w.IsCommitted("10"))
	assert.Equal(t, 1, w.Committed())
}

func TestCheckpointWriter_FailedFlushIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	inner := repository.NewCSVStore(filepath.Join(t.TempDir(), "out.csv"))
	store := &failingStore{RecordStore: inner, failOn: 2}

	w := NewCheckpointWriter(store, 1, "run")
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Add(ctx, record("1")))

	err := w.Add(ctx, record("2"))
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Batch)
	assert.Equal(t, 1, w.Pending(), "failed batch stays buffered")
	assert.False(t, w.IsCommitted("2"))

	records, err := inner.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].EquipmentID)
}

func TestCheckpointWriter_DefaultBatchSize(t *testing.T) {
	w := NewCheckpointWriter(repository.NewCSVStore(filepath.Join(t.TempDir(), "x.csv")), 0, "run")
	assert.Equal(t, DefaultBatchSize, w.batchSize)
}
