package model

import "time"

// Source names the pipeline stage that produced an answer.
type Source string

const (
	SourceCache  Source = "cache"
	SourceStore  Source = "store"
	SourceManual Source = "manual"
	SourceBank   Source = "bank"
	SourceAI     Source = "ai"
)

// Result is a resolved (question, answer) pair.
type Result struct {
	Question  string       `json:"question"`
	Type      QuestionType `json:"question_type"`
	Options   string       `json:"options"`
	Answer    string       `json:"answer"`
	Source    Source       `json:"source"`
	Bank      string       `json:"bank,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitzero"`
}

// Clone returns a copy safe to hand to another goroutine.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Outcome is what the resolver returns to callers.
type Outcome struct {
	Found  bool    `json:"found"`
	Result *Result `json:"result,omitempty"`
}
