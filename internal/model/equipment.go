// Package model 定义了标注流水线和查询服务共享的数据结构。
package model

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// LabelSeparator 是持久化时 all_labels 列的分隔符。
const LabelSeparator = ", "

// EquipmentItem 代表一件待标注的装备，来自 "<名称>_<ID>" 子目录，只读。
type EquipmentItem struct {
	EquipmentID   string
	EquipmentName string
	EquipmentType string
	Dir           string
	// ImagePaths 按正面、背面的顺序排列
	ImagePaths []string
}

// LabelRecord 是一件装备标注成功后的持久化结果。创建后不再修改，重新标注时整体替换。
type LabelRecord struct {
	EquipmentID           string   `json:"equipment_id"`
	EquipmentName         string   `json:"equipment_name"`
	AllLabels             []string `json:"all_labels"`
	AppearanceDescription string   `json:"appearance_description"`
}

// JoinedLabels 返回持久化用的标签字符串。
func (r LabelRecord) JoinedLabels() string {
	return strings.Join(r.AllLabels, LabelSeparator)
}

// MinLabelRunes 是标签的最短字符数，单字标签不具备检索意义。
const MinLabelRunes = 2

// ParseLabelString 解析持久化的标签字符串，兼容中英文逗号，去重并保持原顺序。
// 旧文件中的单字标签在读取时丢弃。
func ParseLabelString(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}
	s = strings.ReplaceAll(s, "，", ",")
	parts := strings.Split(s, ",")
	seen := make(map[string]struct{}, len(parts))
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) < MinLabelRunes {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		labels = append(labels, p)
	}
	return labels
}

// FailedItem 记录一次终止性的单件失败。它不是 LabelRecord，断点续跑时会被重新请求。
type FailedItem struct {
	EquipmentID   string    `json:"equipment_id"`
	EquipmentName string    `json:"equipment_name"`
	Reason        string    `json:"reason"`
	Attempts      int       `json:"attempts"`
	FailedAt      time.Time `json:"failed_at"`
}

// CompareIDs 比较两个装备 ID：都是数字时按数值比较，否则按字典序。
func CompareIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return strings.Compare(a, b)
	}
	return strings.Compare(a, b)
}
