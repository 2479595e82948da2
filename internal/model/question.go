package model

import (
	"strings"
)

// QuestionType identifies how an answer is shaped.
type QuestionType string

const (
	TypeSingle     QuestionType = "single"
	TypeMultiple   QuestionType = "multiple"
	TypeJudgment   QuestionType = "judgment"
	TypeCompletion QuestionType = "completion"
	TypeUnknown    QuestionType = "unknown"
)

// typeAliases maps the labels quiz clients send onto a QuestionType.
var typeAliases = map[string]QuestionType{
	"single":     TypeSingle,
	"radio":      TypeSingle,
	"单选":         TypeSingle,
	"单选题":        TypeSingle,
	"multiple":   TypeMultiple,
	"checkbox":   TypeMultiple,
	"多选":         TypeMultiple,
	"多选题":        TypeMultiple,
	"judgment":   TypeJudgment,
	"judgement":  TypeJudgment,
	"judge":      TypeJudgment,
	"判断":         TypeJudgment,
	"判断题":        TypeJudgment,
	"completion": TypeCompletion,
	"fill":       TypeCompletion,
	"blank":      TypeCompletion,
	"填空":         TypeCompletion,
	"填空题":        TypeCompletion,
}

// ParseQuestionType maps a client-supplied label onto a QuestionType.
// Unrecognized labels map to TypeUnknown.
func ParseQuestionType(s string) QuestionType {
	key := strings.ToLower(strings.TrimSpace(s))
	if t, ok := typeAliases[key]; ok {
		return t
	}
	return TypeUnknown
}

// IsChoice reports whether answers of this type are option letters.
func (t QuestionType) IsChoice() bool {
	return t == TypeSingle || t == TypeMultiple
}

// Valid reports whether t is one of the known types.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeSingle, TypeMultiple, TypeJudgment, TypeCompletion, TypeUnknown:
		return true
	}
	return false
}

func (t QuestionType) String() string { return string(t) }

// Request is one question to resolve. Build it with NewRequest and treat
// it as read-only afterwards.
type Request struct {
	Question   string       `json:"question"`
	Type       QuestionType `json:"type"`
	Options    Options      `json:"options,omitempty"`
	RawOptions string       `json:"raw_options,omitempty"`
}

// NewRequest parses raw option text and returns a request. The type is
// kept as given; callers that want inference use normalize.DetectType.
func NewRequest(question string, qtype QuestionType, rawOptions string) Request {
	return Request{
		Question:   question,
		Type:       qtype,
		Options:    ParseOptions(rawOptions),
		RawOptions: rawOptions,
	}
}

// HasOptions reports whether the request carries any options.
func (r Request) HasOptions() bool { return len(r.Options) > 0 }
