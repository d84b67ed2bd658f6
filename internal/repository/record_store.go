// Package repository 定义了标注结果与失败记录的持久化接口和实现。
package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lexicon-go/internal/model"
)

// RecordStore 是 LabelRecord 的持久化存储。标注运行期间只有 CheckpointWriter 一个写入方。
type RecordStore interface {
	// Name 返回驱动名，用于日志和批次事件。
	Name() string
	// LoadAll 按首次写入顺序返回全部记录，同一 ID 只保留最后一次写入的内容。
	LoadAll(ctx context.Context) ([]model.LabelRecord, error)
	// LoadIDs 返回已经落盘的全部装备 ID，用于断点续跑。
	LoadIDs(ctx context.Context) (map[string]struct{}, error)
	// AppendBatch 原子地写入一批记录：要么全部可见，要么全部不可见。
	AppendBatch(ctx context.Context, records []model.LabelRecord) error
	Close() error
}

func idsOf(records []model.LabelRecord) map[string]struct{} {
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		ids[r.EquipmentID] = struct{}{}
	}
	return ids
}

// dedupeLastWins 保留每个 ID 最后一次出现的内容，顺序按首次出现。
func dedupeLastWins(records []model.LabelRecord) []model.LabelRecord {
	index := make(map[string]int, len(records))
	out := make([]model.LabelRecord, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.EquipmentID]; ok {
			out[i] = r
			continue
		}
		index[r.EquipmentID] = len(out)
		out = append(out, r)
	}
	return out
}

// beforeRename 在临时文件写完、替换目标文件之前调用，测试用它模拟写入中途崩溃。
var beforeRename = func(tmpPath string) error { return nil }

// writeFileAtomic 先写同目录下的临时文件并 fsync，再 rename 覆盖目标文件。
// 任何一步失败都不会影响已有文件。
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := beforeRename(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
