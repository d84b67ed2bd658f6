package model

// SearchResult 是单条搜索命中，按查询即时计算，不落盘。
type SearchResult struct {
	EquipmentID           string   `json:"equipment_id"`
	EquipmentName         string   `json:"equipment_name"`
	AllLabels             string   `json:"all_labels"`
	AppearanceDescription string   `json:"appearance_description"`
	MatchScore            float64  `json:"match_score"`
	MatchedLabels         []string `json:"matched_labels"`
	DescriptionMatches    []string `json:"description_matches"`
	NameMatches           []string `json:"name_matches"`
}

// SearchResponse 对应 GET /search 的响应体。
type SearchResponse struct {
	QueryTags    []string       `json:"query_tags"`
	TotalMatches int            `json:"total_matches"`
	Results      []SearchResult `json:"results"`
}

// TagsResponse 对应 GET /tags 的响应体。
type TagsResponse struct {
	Tags  []string `json:"tags"`
	Count int      `json:"count"`
}

// EquipmentDetail 对应 GET /equipment/:id 的响应体。
type EquipmentDetail struct {
	EquipmentID           string   `json:"equipment_id"`
	EquipmentName         string   `json:"equipment_name"`
	AllLabels             []string `json:"all_labels"`
	AppearanceDescription string   `json:"appearance_description"`
}
