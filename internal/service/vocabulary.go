package service

import (
	"sort"
	"strings"

	"lexicon-go/internal/model"
)

// Vocabulary 是全部记录中出现过的不同标签，只在加载快照时构建。
// 与检索一致，大小写不同的标签视为同一个。
type Vocabulary struct {
	tags []string
	set  map[string]struct{}
}

// NewVocabulary 从记录中收集标签，按字典序排列。
// 同一标签有多种大小写写法时保留字典序最小的一种，与记录顺序无关。
func NewVocabulary(records []model.LabelRecord) *Vocabulary {
	spelling := make(map[string]string)
	for _, r := range records {
		for _, tag := range r.AllLabels {
			key := strings.ToLower(tag)
			if cur, ok := spelling[key]; !ok || tag < cur {
				spelling[key] = tag
			}
		}
	}
	tags := make([]string, 0, len(spelling))
	set := make(map[string]struct{}, len(spelling))
	for key, tag := range spelling {
		tags = append(tags, tag)
		set[key] = struct{}{}
	}
	sort.Strings(tags)
	return &Vocabulary{tags: tags, set: set}
}

// Tags 返回排好序的标签副本。
func (v *Vocabulary) Tags() []string {
	out := make([]string, len(v.tags))
	copy(out, v.tags)
	return out
}

func (v *Vocabulary) Len() int { return len(v.tags) }

func (v *Vocabulary) Contains(tag string) bool {
	_, ok := v.set[strings.ToLower(tag)]
	return ok
}
