// Package service 提供了标签检索相关的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lexicon-go/internal/model"
	"lexicon-go/pkg/log"
)

// 匹配分的权重：标签命中是主项，描述和名称的子串命中是较小的加分项。
const (
	descriptionWeight = 0.3
	nameWeight        = 0.2
)

const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// 查询模式：any 只要命中任一查询标签即可，all 要求每个查询标签都有命中。
const (
	ModeAny = "any"
	ModeAll = "all"
)

var (
	// ErrNotLoaded 表示还没有成功加载过任何快照。
	ErrNotLoaded = errors.New("no snapshot loaded")
	// ErrNotFound 表示快照中没有该装备。
	ErrNotFound = errors.New("equipment not found")
)

// QueryValidationError 表示查询参数不合法，对应 HTTP 400。
type QueryValidationError struct {
	Field  string
	Reason string
}

func (e *QueryValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RecordLoader 是快照的数据来源，repository.RecordStore 和对象存储都实现了它。
type RecordLoader interface {
	LoadAll(ctx context.Context) ([]model.LabelRecord, error)
}

// SearchQuery 是一次检索请求。
type SearchQuery struct {
	Tags []string
	TopK int
	Mode string
}

// ReloadStats 描述一次加载的结果。
type ReloadStats struct {
	Records  int       `json:"records"`
	Tags     int       `json:"tags"`
	LoadedAt time.Time `json:"loaded_at"`
}

// SearchService 接口定义了查询服务的操作。
type SearchService interface {
	Reload(ctx context.Context) (ReloadStats, error)
	Stats() (ReloadStats, bool)
	ListTags() (model.TagsResponse, error)
	Search(q SearchQuery) (model.SearchResponse, error)
	Get(id string) (model.EquipmentDetail, error)
}

// snapshot 加载后不再修改，读路径无需加锁。
type snapshot struct {
	records  []model.LabelRecord
	byID     map[string]int
	vocab    *Vocabulary
	labels   []map[string]struct{} // 小写标签集合，与 records 一一对应
	names    []string              // 小写名称
	descs    []string              // 小写描述
	loadedAt time.Time
}

func newSnapshot(records []model.LabelRecord) *snapshot {
	s := &snapshot{
		byID:     make(map[string]int, len(records)),
		loadedAt: time.Now(),
	}
	for _, r := range records {
		if i, ok := s.byID[r.EquipmentID]; ok {
			s.records[i] = r
			continue
		}
		s.byID[r.EquipmentID] = len(s.records)
		s.records = append(s.records, r)
	}
	s.vocab = NewVocabulary(s.records)
	s.labels = make([]map[string]struct{}, len(s.records))
	s.names = make([]string, len(s.records))
	s.descs = make([]string, len(s.records))
	for i, r := range s.records {
		set := make(map[string]struct{}, len(r.AllLabels))
		for _, tag := range r.AllLabels {
			set[strings.ToLower(tag)] = struct{}{}
		}
		s.labels[i] = set
		s.names[i] = strings.ToLower(r.EquipmentName)
		s.descs[i] = strings.ToLower(r.AppearanceDescription)
	}
	return s
}

func (s *snapshot) stats() ReloadStats {
	return ReloadStats{Records: len(s.records), Tags: s.vocab.Len(), LoadedAt: s.loadedAt}
}

type searchService struct {
	loader  RecordLoader
	maxTopK int

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// NewSearchService 创建一个新的 SearchService 实例。maxTopK < 1 时使用 MaxTopK。
// 创建后需要调用 Reload 才能提供服务。
func NewSearchService(loader RecordLoader, maxTopK int) SearchService {
	if maxTopK < 1 {
		maxTopK = MaxTopK
	}
	return &searchService{loader: loader, maxTopK: maxTopK}
}

// Reload 从数据源重新加载并原子替换快照。加载失败时保留旧快照。
func (s *searchService) Reload(ctx context.Context) (ReloadStats, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	start := time.Now()
	records, err := s.loader.LoadAll(ctx)
	if err != nil {
		log.Errorf("[SearchService] 加载快照失败, 继续使用旧快照: %v", err)
		return ReloadStats{}, fmt.Errorf("load records: %w", err)
	}
	snap := newSnapshot(records)
	s.current.Store(snap)
	stats := snap.stats()
	log.Infof("[SearchService] 快照加载完成, 记录数: %d, 标签数: %d, 耗时: %s", stats.Records, stats.Tags, time.Since(start))
	return stats, nil
}

func (s *searchService) Stats() (ReloadStats, bool) {
	snap := s.current.Load()
	if snap == nil {
		return ReloadStats{}, false
	}
	return snap.stats(), true
}

// ListTags 返回排好序的标签表。
func (s *searchService) ListTags() (model.TagsResponse, error) {
	snap := s.current.Load()
	if snap == nil {
		return model.TagsResponse{}, ErrNotLoaded
	}
	return model.TagsResponse{Tags: snap.vocab.Tags(), Count: snap.vocab.Len()}, nil
}

// Get 返回单件装备的记录。
func (s *searchService) Get(id string) (model.EquipmentDetail, error) {
	snap := s.current.Load()
	if snap == nil {
		return model.EquipmentDetail{}, ErrNotLoaded
	}
	i, ok := snap.byID[strings.TrimSpace(id)]
	if !ok {
		return model.EquipmentDetail{}, ErrNotFound
	}
	r := snap.records[i]
	return model.EquipmentDetail{
		EquipmentID:           r.EquipmentID,
		EquipmentName:         r.EquipmentName,
		AllLabels:             r.AllLabels,
		AppearanceDescription: r.AppearanceDescription,
	}, nil
}

// normalizeTags 去掉空白和重复的查询标签，保持首次出现的顺序。
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (s *searchService) validate(q SearchQuery) (SearchQuery, error) {
	q.Tags = normalizeTags(q.Tags)
	if len(q.Tags) == 0 {
		return q, &QueryValidationError{Field: "tags", Reason: "at least one non-empty tag is required"}
	}
	if q.TopK < 1 || q.TopK > s.maxTopK {
		return q, &QueryValidationError{Field: "top_k", Reason: fmt.Sprintf("must be between 1 and %d", s.maxTopK)}
	}
	switch strings.ToLower(q.Mode) {
	case "", ModeAny:
		q.Mode = ModeAny
	case ModeAll:
		q.Mode = ModeAll
	default:
		return q, &QueryValidationError{Field: "mode", Reason: "must be any or all"}
	}
	return q, nil
}

// Search 对快照中的每条记录计算匹配分，返回按分数降序、ID 升序排列的前 TopK 条。
func (s *searchService) Search(q SearchQuery) (model.SearchResponse, error) {
	q, err := s.validate(q)
	if err != nil {
		return model.SearchResponse{}, err
	}
	snap := s.current.Load()
	if snap == nil {
		return model.SearchResponse{}, ErrNotLoaded
	}

	lowered := make([]string, len(q.Tags))
	for i, t := range q.Tags {
		lowered[i] = strings.ToLower(t)
	}

	results := make([]model.SearchResult, 0)
	for i, r := range snap.records {
		res, ok := scoreRecord(snap, i, q, lowered)
		if !ok {
			continue
		}
		res.EquipmentID = r.EquipmentID
		res.EquipmentName = r.EquipmentName
		res.AllLabels = r.JoinedLabels()
		res.AppearanceDescription = r.AppearanceDescription
		results = append(results, res)
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].MatchScore != results[b].MatchScore {
			return results[a].MatchScore > results[b].MatchScore
		}
		return model.CompareIDs(results[a].EquipmentID, results[b].EquipmentID) < 0
	})

	total := len(results)
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return model.SearchResponse{QueryTags: q.Tags, TotalMatches: total, Results: results}, nil
}

// scoreRecord 计算第 i 条记录的匹配情况，得分为 0 或不满足 all 模式时返回 false。
func scoreRecord(snap *snapshot, i int, q SearchQuery, lowered []string) (model.SearchResult, bool) {
	res := model.SearchResult{
		MatchedLabels:      []string{},
		DescriptionMatches: []string{},
		NameMatches:        []string{},
	}
	covered := 0
	for k, tag := range lowered {
		hit := false
		if _, ok := snap.labels[i][tag]; ok {
			res.MatchedLabels = append(res.MatchedLabels, q.Tags[k])
			hit = true
		}
		if strings.Contains(snap.descs[i], tag) {
			res.DescriptionMatches = append(res.DescriptionMatches, q.Tags[k])
			hit = true
		}
		if strings.Contains(snap.names[i], tag) {
			res.NameMatches = append(res.NameMatches, q.Tags[k])
			hit = true
		}
		if hit {
			covered++
		}
	}
	if covered == 0 || (q.Mode == ModeAll && covered < len(lowered)) {
		return res, false
	}
	res.MatchScore = MatchScore(len(res.MatchedLabels), len(res.DescriptionMatches), len(res.NameMatches), len(lowered))
	return res, res.MatchScore > 0
}

// MatchScore 计算匹配分：标签命中比例为主项，描述、名称命中按较小权重加分。
// 对每个输入都单调不减。
func MatchScore(matched, descMatches, nameMatches, queryLen int) float64 {
	if queryLen < 1 {
		queryLen = 1
	}
	n := float64(queryLen)
	score := float64(matched)/n + descriptionWeight*float64(descMatches)/n + nameWeight*float64(nameMatches)/n
	return math.Round(score*1e4) / 1e4
}
