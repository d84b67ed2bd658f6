package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lexicon-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFailureLog_RecordListClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "labels.csv.failures.json")

	l, err := NewFileFailureLog(path)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, l.Record(ctx, model.FailedItem{EquipmentID: "12", EquipmentName: "盾", Reason: "timeout", Attempts: 3, FailedAt: now}))
	require.NoError(t, l.Record(ctx, model.FailedItem{EquipmentID: "9", EquipmentName: "剑", Reason: "refused", Attempts: 1, FailedAt: now}))

	// 重新打开后仍然可见
	l, err = NewFileFailureLog(path)
	require.NoError(t, err)
	items, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "9", items[0].EquipmentID)
	assert.Equal(t, 3, items[1].Attempts)

	require.NoError(t, l.Clear(ctx, "9", "12"))
	items, err = l.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileFailureLog_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := NewFileFailureLog(path)
	assert.Error(t, err)
}
