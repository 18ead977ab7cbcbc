package models

// PromptPlan is a fully rendered prompt that fits the context budget.
type PromptPlan struct {
	Instruction       string `json:"instruction"`
	EvidenceBlock     string `json:"evidence_block"`
	Text              string `json:"text"`
	InstructionTokens int    `json:"instruction_tokens"`
	EvidenceTokens    int    `json:"evidence_tokens"`
	TotalTokens       int    `json:"total_tokens"`
	MaxTokens         int    `json:"max_tokens"`
	// Included lists the IDs of evidence items that made it into the prompt,
	// in prompt order.
	Included []string `json:"included"`
	Dropped  int      `json:"dropped"`
}
