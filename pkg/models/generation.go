package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// CacheStatus tells whether a generation was served from the response cache.
type CacheStatus string

const (
	CacheHit  CacheStatus = "hit"
	CacheMiss CacheStatus = "miss"
	// CacheNone marks a call that failed before the cache was consulted.
	CacheNone CacheStatus = "none"
)

// GenerationState is a step of the generation state machine.
type GenerationState string

const (
	StateIdle        GenerationState = "IDLE"
	StateCacheLookup GenerationState = "CACHE_LOOKUP"
	StateCacheHit    GenerationState = "CACHE_HIT"
	StateCacheMiss   GenerationState = "CACHE_MISS"
	StateCalling     GenerationState = "CALLING"
	StateStreaming   GenerationState = "STREAMING"
	StateRetry       GenerationState = "RETRY"
	StateFailed      GenerationState = "FAILED"
	StateDone        GenerationState = "DONE"
)

// GenerationResult is the outcome of one generate call.
type GenerationResult struct {
	PromptHash  string            `json:"prompt_hash"`
	Model       string            `json:"model"`
	Text        string            `json:"text"`
	Usage       Usage             `json:"usage"`
	Cost        float64           `json:"cost"`
	CacheStatus CacheStatus       `json:"cache_status"`
	Latency     time.Duration     `json:"latency"`
	Attempts    int               `json:"attempts"`
	Trace       []GenerationState `json:"trace"`
}

// CacheEntry stores a cached, fully assembled model response.
type CacheEntry struct {
	PromptHash string        `json:"prompt_hash"`
	Model      string        `json:"model"`
	Text       string        `json:"text"`
	Usage      Usage         `json:"usage"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
