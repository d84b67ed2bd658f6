package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"lexicon-go/internal/model"
	"lexicon-go/internal/repository"
	"lexicon-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runFixture struct {
	root     string
	store    repository.RecordStore
	failures repository.FailureLog
	output   string
}

func newRunFixture(t *testing.T, n int) *runFixture {
	t.Helper()
	root := t.TempDir()
	for i := 1; i <= n; i++ {
		makeEquipment(t, root, fmt.Sprintf("装备%d", i), fmt.Sprint(i))
	}
	out := filepath.Join(t.TempDir(), "labels.csv")
	failures, err := repository.NewFileFailureLog(out + ".failures.json")
	require.NoError(t, err)
	return &runFixture{root: root, store: repository.NewCSVStore(out), failures: failures, output: out}
}

func (f *runFixture) processor(client llm.VisionClient, concurrency, batchSize int, observers ...BatchObserver) *Processor {
	d := NewDispatcher(client, NewGovernor(concurrency), fastPolicy(), "weapon")
	return NewProcessor(d, f.store, f.failures, batchSize, observers...)
}

func countIDs(t *testing.T, store repository.RecordStore) map[string]int {
	t.Helper()
	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.EquipmentID]++
	}
	return counts
}

func TestRun_IdempotentResume(t *testing.T) {
	ctx := context.Background()
	f := newRunFixture(t, 7)
	fake := &fakeVision{}

	summary, err := f.processor(fake, 3, 3).Run(ctx, Options{ImageDir: f.root, EquipmentType: "weapon"})
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Discovered)
	assert.Equal(t, 7, summary.Labeled)
	assert.Equal(t, 3, summary.Batches)
	assert.NotEmpty(t, summary.RunID)

	summary, err = f.processor(fake, 3, 3).Run(ctx, Options{ImageDir: f.root, EquipmentType: "weapon"})
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Skipped)
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, int64(7), fake.calls.Load(), "second run must not re-request labeled items")

	counts := countIDs(t, f.store)
	assert.Len(t, counts, 7)
	for id, n := range counts {
		assert.Equal(t, 1, n, "equipment %s duplicated", id)
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	f := newRunFixture(t, 24)
	fake := &fakeVision{delay: 5 * time.Millisecond}

	summary, err := f.processor(fake, 4, 50).Run(context.Background(), Options{ImageDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, 24, summary.Labeled)
	assert.LessOrEqual(t, fake.peak.Load(), int64(4))
	assert.Greater(t, fake.peak.Load(), int64(1))
}

func TestRun_ItemFailuresDoNotAbort(t *testing.T) {
	ctx := context.Background()
	f := newRunFixture(t, 5)
	fake := &fakeVision{respond: func(call int, _ []llm.Image) (string, error) {
		if call == 5 {
			return "", fmt.Errorf("policy: %w", llm.ErrRefused)
		}
		if call == 1 {
			return "I cannot describe this", nil
		}
		return "Tags: gold", nil
	}}

	summary, err := f.processor(fake, 1, 2).Run(ctx, Options{ImageDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Dispatched)
	assert.Equal(t, 1, summary.ParseFailures)
	assert.Equal(t, 3, summary.Labeled)
	require.Len(t, summary.Failures, 2)

	counts := countIDs(t, f.store)
	assert.Len(t, counts, 4, "parse failures are persisted, dispatch failures are not")

	failed, err := f.failures.List(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	_, stored := counts[failed[0].EquipmentID]
	assert.False(t, stored)

	// 失败项在下一次运行时会被重新请求，成功后从失败记录中清除
	fake.respond = nil
	summary, err = f.processor(fake, 1, 2).Run(ctx, Options{ImageDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dispatched)
	failed, err = f.failures.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRun_DebugLimitAfterResume(t *testing.T) {
	ctx := context.Background()
	f := newRunFixture(t, 15)
	require.NoError(t, f.store.AppendBatch(ctx, []model.LabelRecord{{EquipmentID: "1"}, {EquipmentID: "2"}}))

	summary, err := f.processor(&fakeVision{}, 2, 50).Run(ctx, Options{ImageDir: f.root, Debug: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, DefaultDebugLimit, summary.Dispatched)

	counts := countIDs(t, f.store)
	assert.Len(t, counts, 12)
	assert.Contains(t, counts, "12")
	assert.NotContains(t, counts, "13")
}

func TestRun_PersistenceErrorAborts(t *testing.T) {
	f := newRunFixture(t, 6)
	f.store = &failingStore{RecordStore: f.store, failOn: 2}

	summary, err := f.processor(&fakeVision{}, 1, 2).Run(context.Background(), Options{ImageDir: f.root})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, summary.Batches)

	records, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2, "only the first complete batch is visible")
}

func TestRun_InterruptFlushesCompletedItems(t *testing.T) {
	f := newRunFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Int64
	client := visionFunc(func(ctx context.Context, _ string, _ []llm.Image) (string, error) {
		if done.Add(1) > 3 {
			cancel()
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "Tags: gold", nil
	})

	summary, err := f.processor(client, 1, 50).Run(ctx, Options{ImageDir: f.root})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 3, summary.Labeled)
	assert.Equal(t, 7, summary.Interrupted)
	assert.Empty(t, summary.Failures)

	assert.Len(t, countIDs(t, f.store), 3)
	failed, err := f.failures.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRun_InvalidDirectory(t *testing.T) {
	f := newRunFixture(t, 0)
	_, err := f.processor(&fakeVision{}, 1, 1).Run(context.Background(), Options{ImageDir: f.root})
	var ive *InputValidationError
	assert.ErrorAs(t, err, &ive)
}
