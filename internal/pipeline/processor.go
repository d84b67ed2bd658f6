// Package pipeline 定义了装备图片标注的核心流程：枚举、限流调度、解析、分批落盘。
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"lexicon-go/internal/model"
	"lexicon-go/internal/repository"
	"lexicon-go/pkg/log"

	"github.com/google/uuid"
)

// DefaultDebugLimit 是调试模式下最多处理的装备数。
const DefaultDebugLimit = 10

// Options 是一次标注运行的参数。
type Options struct {
	ImageDir      string
	EquipmentType string
	Debug         bool
	DebugLimit    int
}

// ItemFailure 记录单件装备的失败，只出现在运行汇总里，不会中止运行。
type ItemFailure struct {
	EquipmentID   string
	EquipmentName string
	// Parse 为 true 表示请求成功但没有解析出标签，记录仍然写入存储。
	Parse    bool
	Reason   string
	Attempts int
}

// Summary 是一次运行结束后的汇总。
type Summary struct {
	RunID         string
	Discovered    int
	Skipped       int
	Dispatched    int
	Labeled       int
	ParseFailures int
	Interrupted   int
	Failures      []ItemFailure
	Batches       int
	Duration      time.Duration
}

// Processor 串起整个标注流程。
type Processor struct {
	dispatcher *Dispatcher
	store      repository.RecordStore
	failures   repository.FailureLog
	batchSize  int
	observers  []BatchObserver
}

// NewProcessor 创建一个新的 Processor 实例。failures 可以为 nil。
func NewProcessor(
	dispatcher *Dispatcher,
	store repository.RecordStore,
	failures repository.FailureLog,
	batchSize int,
	observers ...BatchObserver,
) *Processor {
	return &Processor{
		dispatcher: dispatcher,
		store:      store,
		failures:   failures,
		batchSize:  batchSize,
		observers:  observers,
	}
}

type outcome struct {
	item     model.EquipmentItem
	result   ParseResult
	attempts int
	err      error
}

// Run 执行一次完整的标注运行。
// 单件失败只记入汇总；落盘失败返回 *PersistenceError 并中止；目录不合法返回 *InputValidationError。
// ctx 被取消时，已完成的记录仍会落盘，返回 ctx 的错误。
func (p *Processor) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}

	items, err := Discover(opts.ImageDir, opts.EquipmentType)
	if err != nil {
		return summary, err
	}
	summary.Discovered = len(items)

	// 落盘不跟随 ctx 取消，保证中断时已完成的记录能写完
	writeCtx := context.WithoutCancel(ctx)
	observers := append([]BatchObserver{}, p.observers...)
	if p.failures != nil {
		observers = append(observers, BatchObserverFunc(func(ctx context.Context, b model.CommittedBatch) error {
			return p.failures.Clear(ctx, b.IDs()...)
		}))
	}
	writer := NewCheckpointWriter(p.store, p.batchSize, summary.RunID, observers...)
	if err := writer.Open(writeCtx); err != nil {
		return summary, err
	}

	pending := make([]model.EquipmentItem, 0, len(items))
	for _, it := range items {
		if !writer.IsCommitted(it.EquipmentID) {
			pending = append(pending, it)
		}
	}
	summary.Skipped = len(items) - len(pending)
	if opts.Debug {
		limit := opts.DebugLimit
		if limit < 1 {
			limit = DefaultDebugLimit
		}
		if len(pending) > limit {
			log.Infof("[Processor] 调试模式: 共 %d 件待处理, 只处理前 %d 件", len(pending), limit)
			pending = pending[:limit]
		}
	}
	summary.Dispatched = len(pending)
	log.Infow("[Processor] 开始标注",
		"run_id", summary.RunID, "discovered", summary.Discovered, "skipped", summary.Skipped, "dispatching", len(pending))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan outcome)
	var wg sync.WaitGroup
	for _, item := range pending {
		wg.Add(1)
		go func(item model.EquipmentItem) {
			defer wg.Done()
			outcomes <- p.label(runCtx, item)
		}(item)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	// 唯一的收集者：按完成顺序写入 CheckpointWriter
	var fatal error
	done := 0
	for o := range outcomes {
		if fatal != nil {
			continue
		}
		done++
		if o.err != nil {
			p.recordFailure(writeCtx, summary, o)
			continue
		}
		if o.result.Kind == Unparsed {
			summary.ParseFailures++
			summary.Failures = append(summary.Failures, ItemFailure{
				EquipmentID:   o.item.EquipmentID,
				EquipmentName: o.item.EquipmentName,
				Parse:         true,
				Reason:        "no labels extracted from model response",
				Attempts:      o.attempts,
			})
			log.Warnw("[Processor] 模型回答未解析出标签", "equipment_id", o.item.EquipmentID, "raw", truncate(o.result.RawText, 200))
		} else {
			summary.Labeled++
		}
		if err := writer.Add(writeCtx, o.result.Record(o.item)); err != nil {
			fatal = err
			cancel()
		}
		if done%50 == 0 {
			log.Infof("[Processor] 进度 %d/%d", done, len(pending))
		}
	}

	if fatal == nil {
		fatal = writer.Close(writeCtx)
	}
	summary.Batches = writer.Batches()
	summary.Duration = time.Since(start)

	if fatal != nil {
		log.Error("[Processor] 运行中止", fatal)
		return summary, fatal
	}
	log.Infow("[Processor] 标注完成",
		"run_id", summary.RunID, "labeled", summary.Labeled, "parse_failures", summary.ParseFailures,
		"failures", len(summary.Failures)-summary.ParseFailures, "interrupted", summary.Interrupted,
		"batches", summary.Batches, "duration", summary.Duration)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (p *Processor) label(ctx context.Context, item model.EquipmentItem) outcome {
	text, attempts, err := p.dispatcher.Dispatch(ctx, item)
	if err != nil {
		return outcome{item: item, attempts: attempts, err: err}
	}
	return outcome{item: item, attempts: attempts, result: ParseResponse(text)}
}

func (p *Processor) recordFailure(ctx context.Context, summary *Summary, o outcome) {
	// 被中断的装备没有真正失败，下次运行自然会重新请求
	if errors.Is(o.err, context.Canceled) {
		summary.Interrupted++
		return
	}
	summary.Failures = append(summary.Failures, ItemFailure{
		EquipmentID:   o.item.EquipmentID,
		EquipmentName: o.item.EquipmentName,
		Reason:        o.err.Error(),
		Attempts:      o.attempts,
	})
	log.Warnw("[Processor] 装备标注失败", "equipment_id", o.item.EquipmentID, "attempts", o.attempts, "error", o.err)
	if p.failures == nil {
		return
	}
	if err := p.failures.Record(ctx, model.FailedItem{
		EquipmentID:   o.item.EquipmentID,
		EquipmentName: o.item.EquipmentName,
		Reason:        o.err.Error(),
		Attempts:      o.attempts,
		FailedAt:      time.Now(),
	}); err != nil {
		log.Error("[Processor] 写入失败记录出错", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
