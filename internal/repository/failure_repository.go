package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"lexicon-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// FailureLog 记录终止性失败的装备。失败项不写入 RecordStore，下次运行会重新请求。
type FailureLog interface {
	Record(ctx context.Context, item model.FailedItem) error
	// Clear 删除指定 ID 的失败记录（该装备随后被成功标注）。
	Clear(ctx context.Context, ids ...string) error
	List(ctx context.Context) ([]model.FailedItem, error)
}

// fileFailureLog 把失败记录保存为一个 JSON 文件，每次修改都整体原子重写。
type fileFailureLog struct {
	mu    sync.Mutex
	path  string
	items map[string]model.FailedItem
}

// NewFileFailureLog 创建一个以 JSON 文件为载体的 FailureLog。
func NewFileFailureLog(path string) (FailureLog, error) {
	l := &fileFailureLog{path: path, items: make(map[string]model.FailedItem)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	var items []model.FailedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode failure log %s: %w", path, err)
	}
	for _, it := range items {
		l.items[it.EquipmentID] = it
	}
	return l, nil
}

func (l *fileFailureLog) Record(ctx context.Context, item model.FailedItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[item.EquipmentID] = item
	return l.flush()
}

func (l *fileFailureLog) Clear(ctx context.Context, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	for _, id := range ids {
		if _, ok := l.items[id]; ok {
			delete(l.items, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.flush()
}

func (l *fileFailureLog) List(ctx context.Context) ([]model.FailedItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sorted(), nil
}

func (l *fileFailureLog) sorted() []model.FailedItem {
	items := make([]model.FailedItem, 0, len(l.items))
	for _, it := range l.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return model.CompareIDs(items[i].EquipmentID, items[j].EquipmentID) < 0
	})
	return items
}

func (l *fileFailureLog) flush() error {
	items := l.sorted()
	if len(items) == 0 {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFileAtomic(l.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	})
}

// FailureHashKey 是 Redis 中保存失败记录的 hash。
const FailureHashKey = "lexicon:failures"

// redisFailureLog 把失败记录存放在 Redis hash 中，多台机器的标注运行共享同一份记录。
type redisFailureLog struct {
	redisClient *redis.Client
}

// NewRedisFailureLog 创建一个基于 Redis 的 FailureLog。
func NewRedisFailureLog(redisClient *redis.Client) FailureLog {
	return &redisFailureLog{redisClient: redisClient}
}

func (l *redisFailureLog) Record(ctx context.Context, item model.FailedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return l.redisClient.HSet(ctx, FailureHashKey, item.EquipmentID, data).Err()
}

func (l *redisFailureLog) Clear(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.redisClient.HDel(ctx, FailureHashKey, ids...).Err()
}

func (l *redisFailureLog) List(ctx context.Context) ([]model.FailedItem, error) {
	values, err := l.redisClient.HGetAll(ctx, FailureHashKey).Result()
	if err != nil {
		return nil, err
	}
	items := make([]model.FailedItem, 0, len(values))
	for id, raw := range values {
		var it model.FailedItem
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			return nil, fmt.Errorf("decode failure entry %s: %w", id, err)
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return model.CompareIDs(items[i].EquipmentID, items[j].EquipmentID) < 0
	})
	return items, nil
}
