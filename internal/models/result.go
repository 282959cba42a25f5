package models

// SearchHit is a single search result. Distance is the squared L2 distance for
// semantic hits; Score is the relevance score for keyword hits.
type SearchHit struct {
	Record   EmbeddingRecord `json:"record"`
	Row      int             `json:"row"`
	Distance float32         `json:"distance,omitempty"`
	Score    float64         `json:"score,omitempty"`
	Rank     int             `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Hits      []SearchHit `json:"hits"`
	Total     int         `json:"total"`
	Mode      SearchMode  `json:"mode"`
	Query     string      `json:"query,omitempty"`
	QueryTime int64       `json:"query_time_ms"`
}
