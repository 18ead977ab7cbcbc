package models

// Citation points at an evidence item the answer was grounded on.
type Citation struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`
	Anchor     Anchor     `json:"anchor"`
	Score      float64    `json:"score"`
}

// Answer is what the caller-facing API returns for a successful ask.
type Answer struct {
	QueryID    string     `json:"query_id"`
	Text       string     `json:"answer_text"`
	Citations  []Citation `json:"evidence_citations"`
	Cost       float64    `json:"cost"`
	LatencyMs  int64      `json:"latency_ms"`
	CacheHit   bool       `json:"cache_hit"`
	Model      string     `json:"model"`
	Intent     Intent     `json:"intent"`
	Confidence float64    `json:"confidence"`
	Degraded   bool       `json:"degraded"`
}
