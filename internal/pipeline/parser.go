package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"lexicon-go/internal/model"
)

// ParseKind 区分解析成功与失败两种结果。
type ParseKind int

const (
	// Unparsed 表示没有提取到任何标签。
	Unparsed ParseKind = iota
	// Parsed 表示至少提取到一个标签。
	Parsed
)

func (k ParseKind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "unparsed"
}

// 标签长度范围（按字符计）。单个字符不构成有效标签，超过上限的通常是整句话。
const (
	MinTagRunes = model.MinLabelRunes
	MaxTagRunes = 48
)

// ParseResult 是 ParseResponse 的返回值，两种结果走同一条持久化路径。
type ParseResult struct {
	Kind        ParseKind
	Labels      []string
	Description string
	// RawText 是去掉推理过程之后的最终回答，解析失败时便于排查。
	RawText string
}

// Record 把解析结果转换为对应装备的 LabelRecord。解析失败时标签为空。
func (r ParseResult) Record(item model.EquipmentItem) model.LabelRecord {
	labels := r.Labels
	if labels == nil {
		labels = []string{}
	}
	return model.LabelRecord{
		EquipmentID:           item.EquipmentID,
		EquipmentName:         item.EquipmentName,
		AllLabels:             labels,
		AppearanceDescription: r.Description,
	}
}

var reasoningClosers = []string{"</think>", "</thinking>", "</reasoning>", "◁/think▷"}
var reasoningOpeners = []string{"<think>", "<thinking>", "<reasoning>", "◁think▷"}

// jsonLabelKeys 按顺序读取，all_labels 的顺序与之一致。
var jsonLabelKeys = append(append([]string{}, LabelCategories...),
	"tags", "labels", "all_labels", "appearance_looks_like", "custom_tags")

var jsonDescriptionKeys = []string{"appearance_description", "description"}

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")
	tagMarkerRe   = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(?:\*\*)?\s*(tags|labels|标签)\s*(?:\*\*)?\s*[:：]\s*(?:\*\*)?(.*)$`)
	descMarkerRe  = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(?:\*\*)?\s*(description|描述)\s*(?:\*\*)?\s*[:：]\s*(?:\*\*)?(.*)$`)
	bulletRe      = regexp.MustCompile(`^\s*(?:[-*+]\s+|[•·]\s*|\d+[.)、]\s*)(.+)$`)
	tagSeparators = func(r rune) bool {
		switch r {
		case ',', '，', '、', ';', '；', '|', '\n':
			return true
		}
		return false
	}
)

// ParseResponse 从模型原始输出中提取标签和描述，不会返回错误。
func ParseResponse(raw string) ParseResult {
	answer := finalAnswer(raw)
	res := ParseResult{Kind: Unparsed, RawText: answer}
	if answer == "" {
		return res
	}

	// 能解码出 JSON 对象时以它为准，不再把原文交给文本策略，否则键名会被当成标签
	if labels, desc, decoded := extractJSON(answer); decoded {
		res.Description = desc
		if len(labels) > 0 {
			res.Kind = Parsed
			res.Labels = labels
		}
		return res
	}

	var fallbackDesc string
	for _, extract := range []func(string) ([]string, string){
		extractMarkers,
		extractBullets,
		extractSingleLine,
	} {
		labels, desc := extract(answer)
		if len(labels) > 0 {
			res.Kind = Parsed
			res.Labels = labels
			res.Description = desc
			return res
		}
		if fallbackDesc == "" {
			fallbackDesc = desc
		}
	}
	res.Description = fallbackDesc
	return res
}

// finalAnswer 丢弃最后一个推理结束标记及其之前的全部内容。
func finalAnswer(raw string) string {
	cut := -1
	for _, closer := range reasoningClosers {
		if i := strings.LastIndex(raw, closer); i >= 0 && i+len(closer) > cut {
			cut = i + len(closer)
		}
	}
	if cut >= 0 {
		raw = raw[cut:]
	}
	// 没有闭合标记时模型输出可能被截断，只去掉孤立的开始标记
	for _, opener := range reasoningOpeners {
		raw = strings.ReplaceAll(raw, opener, "")
	}
	return strings.TrimSpace(raw)
}

// extractJSON 返回第一个能解码的 JSON 对象中的标签和描述，decoded 表示是否找到了这样的对象。
func extractJSON(text string) (labels []string, desc string, decoded bool) {
	candidates := []string{text}
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(c), &obj); err != nil {
			continue
		}
		tags := newTagSet()
		for _, key := range jsonLabelKeys {
			tags.addValue(obj[key])
		}
		for _, key := range jsonDescriptionKeys {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				desc = strings.TrimSpace(s)
				break
			}
		}
		return tags.list, desc, true
	}
	return nil, "", false
}

func extractMarkers(text string) ([]string, string) {
	const (
		none = iota
		inTags
		inDesc
	)
	tags := newTagSet()
	var desc []string
	state := none
	found := false

	for _, line := range strings.Split(text, "\n") {
		if m := tagMarkerRe.FindStringSubmatch(line); m != nil {
			state, found = inTags, true
			tags.addText(m[2])
			continue
		}
		if m := descMarkerRe.FindStringSubmatch(line); m != nil {
			state, found = inDesc, true
			if s := strings.TrimSpace(m[2]); s != "" {
				desc = append(desc, s)
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		switch state {
		case inTags:
			if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
				tags.addText(m[1])
			} else if trimmed != "" && len(tags.list) == 0 {
				// "Tags:" 单独成行，标签在下一行
				tags.addText(trimmed)
			} else {
				state = none
			}
		case inDesc:
			if trimmed != "" {
				desc = append(desc, trimmed)
			}
		}
	}
	if !found {
		return nil, ""
	}
	return tags.list, strings.Join(desc, " ")
}

func extractBullets(text string) ([]string, string) {
	tags := newTagSet()
	var prose []string
	bullets := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := bulletRe.FindStringSubmatch(trimmed); m != nil {
			bullets++
			tags.addText(m[1])
			continue
		}
		prose = append(prose, trimmed)
	}
	if bullets == 0 {
		return nil, ""
	}
	return tags.list, strings.Join(prose, " ")
}

func extractSingleLine(text string) ([]string, string) {
	if strings.Contains(text, "\n") {
		return nil, ""
	}
	parts := strings.FieldsFunc(text, tagSeparators)
	if len(parts) < 2 {
		return nil, ""
	}
	for _, p := range parts {
		if utf8.RuneCountInString(strings.TrimSpace(p)) > MaxTagRunes {
			return nil, ""
		}
	}
	tags := newTagSet()
	tags.addText(text)
	return tags.list, ""
}

// tagSet 按首次出现的顺序去重。
type tagSet struct {
	seen map[string]struct{}
	list []string
}

func newTagSet() *tagSet {
	return &tagSet{seen: make(map[string]struct{})}
}

func (s *tagSet) addValue(v interface{}) {
	switch val := v.(type) {
	case string:
		s.addText(val)
	case []interface{}:
		for _, elem := range val {
			if str, ok := elem.(string); ok {
				s.addText(str)
			}
		}
	}
}

func (s *tagSet) addText(text string) {
	for _, part := range strings.FieldsFunc(text, tagSeparators) {
		s.add(part)
	}
}

func (s *tagSet) add(tag string) {
	tag = cleanTag(tag)
	if n := utf8.RuneCountInString(tag); n < MinTagRunes || n > MaxTagRunes {
		return
	}
	key := strings.ToLower(tag)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.list = append(s.list, tag)
}

// cleanTag 去掉标签两端的空白、引号、括号和标点残留。
func cleanTag(tag string) string {
	return strings.TrimFunc(tag, func(r rune) bool {
		if unicode.IsSpace(r) {
			return true
		}
		switch r {
		case '"', '\'', '`', '“', '”', '‘', '’', '[', ']', '(', ')', '{', '}', '<', '>',
			'【', '】', '「', '」', '《', '》', '（', '）',
			'*', '#', '.', '。', ':', '：', '!', '！', '?', '？', '-', '_':
			return true
		}
		return false
	})
}
