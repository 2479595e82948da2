// Package manual is the operator-curated question bank. Entries live in a
// YAML (or JSON) file mapping question text to an answer and are served
// from an immutable in-memory table that is swapped on reload.
package manual

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
)

// Entry is one curated answer.
type Entry struct {
	Question string             `json:"question" yaml:"question"`
	Type     model.QuestionType `json:"type" yaml:"type"`
	Typed    bool               `json:"typed" yaml:"-"`
	Answer   string             `json:"answer" yaml:"answer"`
	Note     string             `json:"note,omitempty" yaml:"note,omitempty"`
}

// LoadIssue describes an entry skipped while loading the bank file.
type LoadIssue struct {
	Line     int    `json:"line"`
	Question string `json:"question,omitempty"`
	Reason   string `json:"reason"`
}

func (i LoadIssue) String() string {
	if i.Question == "" {
		return fmt.Sprintf("line %d: %s", i.Line, i.Reason)
	}
	return fmt.Sprintf("line %d (%q): %s", i.Line, i.Question, i.Reason)
}

type entryValue struct {
	Answer string `yaml:"answer"`
	Type   string `yaml:"type"`
	Note   string `yaml:"note"`
}

type listValue struct {
	Question string `yaml:"question"`
	entryValue `yaml:",inline"`
}

// Parse decodes a bank document. Accepted shapes:
//
//	question: answer
//	question: {answer: B, type: single, note: ...}
//	question: [{answer: B, type: single}, {answer: "2", type: completion}]
//	- {question: ..., answer: ..., type: ...}
//
// Malformed entries are returned as issues; only an undecodable document
// is an error.
func Parse(data []byte) ([]Entry, []LoadIssue, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, eris.Wrap(err, "manual: parse bank file")
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil, nil
	}

	root := doc.Content[0]
	var (
		entries []Entry
		issues  []LoadIssue
	)
	add := func(e Entry, issue *LoadIssue) {
		if issue != nil {
			issues = append(issues, *issue)
			return
		}
		entries = append(entries, e)
	}

	switch root.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, val := root.Content[i], root.Content[i+1]
			question := strings.TrimSpace(key.Value)
			if key.Kind != yaml.ScalarNode || question == "" {
				add(Entry{}, &LoadIssue{Line: key.Line, Reason: "question must be non-empty text"})
				continue
			}
			switch val.Kind {
			case yaml.ScalarNode:
				add(buildEntry(question, entryValue{Answer: val.Value}, val.Line))
			case yaml.MappingNode:
				var v entryValue
				if err := val.Decode(&v); err != nil {
					add(Entry{}, &LoadIssue{Line: val.Line, Question: question, Reason: err.Error()})
					continue
				}
				add(buildEntry(question, v, val.Line))
			case yaml.SequenceNode:
				for _, item := range val.Content {
					if item.Kind == yaml.ScalarNode {
						add(buildEntry(question, entryValue{Answer: item.Value}, item.Line))
						continue
					}
					var v entryValue
					if err := item.Decode(&v); err != nil {
						add(Entry{}, &LoadIssue{Line: item.Line, Question: question, Reason: err.Error()})
						continue
					}
					add(buildEntry(question, v, item.Line))
				}
			default:
				add(Entry{}, &LoadIssue{Line: val.Line, Question: question, Reason: "unsupported value"})
			}
		}

	case yaml.SequenceNode:
		for _, item := range root.Content {
			var v listValue
			if err := item.Decode(&v); err != nil {
				add(Entry{}, &LoadIssue{Line: item.Line, Reason: err.Error()})
				continue
			}
			add(buildEntry(strings.TrimSpace(v.Question), v.entryValue, item.Line))
		}

	default:
		return nil, nil, eris.New("manual: bank file must be a mapping or a list")
	}

	return entries, issues, nil
}

func buildEntry(question string, v entryValue, line int) (Entry, *LoadIssue) {
	if question == "" {
		return Entry{}, &LoadIssue{Line: line, Reason: "missing question"}
	}
	answer := strings.TrimSpace(v.Answer)
	if answer == "" {
		return Entry{}, &LoadIssue{Line: line, Question: question, Reason: "missing answer"}
	}

	e := Entry{Question: question, Type: model.TypeSingle, Answer: answer, Note: v.Note}
	if t := strings.TrimSpace(v.Type); t != "" {
		qt := model.ParseQuestionType(t)
		if qt == model.TypeUnknown {
			return Entry{}, &LoadIssue{Line: line, Question: question, Reason: fmt.Sprintf("unknown type %q", t)}
		}
		e.Type = qt
		e.Typed = true
	}
	return e, nil
}

// Marshal encodes entries in the mapping form, grouping entries that
// share a question into a list.
func Marshal(entries []Entry) ([]byte, error) {
	var (
		order  []string
		groups = make(map[string][]Entry)
	)
	for _, e := range entries {
		if _, ok := groups[e.Question]; !ok {
			order = append(order, e.Question)
		}
		groups[e.Question] = append(groups[e.Question], e)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, q := range order {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: q}
		var val yaml.Node
		group := groups[q]
		if len(group) == 1 {
			if err := val.Encode(valueOf(group[0])); err != nil {
				return nil, eris.Wrap(err, "manual: encode entry")
			}
		} else {
			items := make([]any, len(group))
			for i, e := range group {
				items[i] = valueOf(e)
			}
			if err := val.Encode(items); err != nil {
				return nil, eris.Wrap(err, "manual: encode entries")
			}
		}
		root.Content = append(root.Content, key, &val)
	}

	out, err := yaml.Marshal(root)
	return out, eris.Wrap(err, "manual: marshal bank")
}

// valueOf returns a bare answer when type and note are absent.
func valueOf(e Entry) any {
	if !e.Typed && e.Note == "" {
		return e.Answer
	}
	m := struct {
		Answer string `yaml:"answer"`
		Type   string `yaml:"type,omitempty"`
		Note   string `yaml:"note,omitempty"`
	}{Answer: e.Answer, Note: e.Note}
	if e.Typed {
		m.Type = string(e.Type)
	}
	return m
}

func normalizedQuestion(q string) string {
	return normalize.CollapseQuestion(q)
}
