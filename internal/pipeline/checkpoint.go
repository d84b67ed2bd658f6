package pipeline

import (
	"context"
	"time"

	"lexicon-go/internal/model"
	"lexicon-go/internal/repository"
	"lexicon-go/pkg/log"
)

// DefaultBatchSize 是未配置时每批落盘的记录数。
const DefaultBatchSize = 50

// BatchObserver 在批次提交之后收到通知。返回的错误只记录日志，不影响运行。
type BatchObserver interface {
	BatchCommitted(ctx context.Context, batch model.CommittedBatch) error
}

// BatchObserverFunc 让普通函数实现 BatchObserver。
type BatchObserverFunc func(ctx context.Context, batch model.CommittedBatch) error

func (f BatchObserverFunc) BatchCommitted(ctx context.Context, batch model.CommittedBatch) error {
	return f(ctx, batch)
}

// CheckpointWriter 缓冲已完成的记录，攒满一批后原子写入 RecordStore。
// 非并发安全：运行期间只由收集协程调用。
type CheckpointWriter struct {
	store     repository.RecordStore
	batchSize int
	runID     string
	observers []BatchObserver

	buffer    []model.LabelRecord
	committed map[string]struct{}
	batches   int
	written   int
}

// NewCheckpointWriter 创建一个新的 CheckpointWriter 实例。
func NewCheckpointWriter(store repository.RecordStore, batchSize int, runID string, observers ...BatchObserver) *CheckpointWriter {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &CheckpointWriter{
		store:     store,
		batchSize: batchSize,
		runID:     runID,
		observers: observers,
		committed: make(map[string]struct{}),
	}
}

// Open 读取存储中已有的装备 ID，作为断点续跑的依据。
func (w *CheckpointWriter) Open(ctx context.Context) error {
	ids, err := w.store.LoadIDs(ctx)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	w.committed = ids
	log.Infof("[Checkpoint] 存储 %s 中已有 %d 条记录", w.store.Name(), len(ids))
	return nil
}

// IsCommitted 报告该 ID 是否已经落盘。
func (w *CheckpointWriter) IsCommitted(id string) bool {
	_, ok := w.committed[id]
	return ok
}

// Committed 返回已落盘的 ID 数量。
func (w *CheckpointWriter) Committed() int { return len(w.committed) }

// Add 缓冲一条记录，缓冲区满时立即落盘。
func (w *CheckpointWriter) Add(ctx context.Context, rec model.LabelRecord) error {
	w.buffer = append(w.buffer, rec)
	if len(w.buffer) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush 把缓冲区作为一个批次原子写入。失败时缓冲区保持不变。
func (w *CheckpointWriter) Flush(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}
	seq := w.batches + 1
	if err := w.store.AppendBatch(ctx, w.buffer); err != nil {
		log.Errorw("[Checkpoint] 批次落盘失败", "batch", seq, "records", len(w.buffer), "error", err)
		return &PersistenceError{Batch: seq, Err: err}
	}

	batch := model.CommittedBatch{
		RunID:       w.runID,
		Seq:         seq,
		Store:       w.store.Name(),
		Records:     w.buffer,
		CommittedAt: time.Now(),
	}
	w.batches = seq
	w.written += len(w.buffer)
	for _, r := range w.buffer {
		w.committed[r.EquipmentID] = struct{}{}
	}
	w.buffer = nil
	log.Infow("[Checkpoint] 批次已提交", "batch", seq, "records", len(batch.Records), "store", batch.Store)

	for _, o := range w.observers {
		if err := o.BatchCommitted(ctx, batch); err != nil {
			log.Warnw("[Checkpoint] 批次通知失败", "batch", seq, "error", err)
		}
	}
	return nil
}

// Close 落盘剩余的缓冲记录。
func (w *CheckpointWriter) Close(ctx context.Context) error {
	return w.Flush(ctx)
}

// Pending 返回尚未落盘的记录数。
func (w *CheckpointWriter) Pending() int { return len(w.buffer) }

// Batches 返回本次运行提交的批次数。
func (w *CheckpointWriter) Batches() int { return w.batches }

// Written 返回本次运行写入的记录数。
func (w *CheckpointWriter) Written() int { return w.written }
