package model

import (
	"regexp"
	"strings"
)

// Option is a single lettered choice.
type Option struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

// Options is an ordered option list.
type Options []Option

// optionPrefix matches "A.", "A、", "A:", "A：", "A)", "(A)", "A " at the start of a line.
var optionPrefix = regexp.MustCompile(`^[(（]?([A-Za-zＡ-Ｚａ-ｚ])[)）]?\s*[.．、:：)）]?\s*(.*)$`)

// strictPrefix requires a separator after the letter so that option
// text starting with a capital letter is not split.
var strictPrefix = regexp.MustCompile(`^[(（]?([A-Za-zＡ-Ｚａ-ｚ])(?:[)）]|\s*[.．、:：])\s*(.*)$`)

// ParseOptions splits raw option text, one option per line, into
// lettered options. Lines without a letter prefix get the next letter
// in sequence.
func ParseOptions(raw string) Options {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out Options
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		next := letterAt(len(out))

		if m := strictPrefix.FindStringSubmatch(line); m != nil {
			out = append(out, Option{Letter: foldLetter(m[1]), Text: strings.TrimSpace(m[2])})
			continue
		}
		// A bare letter line ("A") is the letter alone.
		if m := optionPrefix.FindStringSubmatch(line); m != nil && m[2] == "" {
			out = append(out, Option{Letter: foldLetter(m[1]), Text: ""})
			continue
		}
		out = append(out, Option{Letter: next, Text: line})
	}
	return out
}

// Letters returns the option letters in order.
func (o Options) Letters() []string {
	letters := make([]string, len(o))
	for i, opt := range o {
		letters[i] = opt.Letter
	}
	return letters
}

// Has reports whether letter names one of the options.
func (o Options) Has(letter string) bool {
	for _, opt := range o {
		if opt.Letter == letter {
			return true
		}
	}
	return false
}

// Text renders options back into "A. text" lines.
func (o Options) Text() string {
	lines := make([]string, len(o))
	for i, opt := range o {
		if opt.Text == "" {
			lines[i] = opt.Letter
			continue
		}
		lines[i] = opt.Letter + ". " + opt.Text
	}
	return strings.Join(lines, "\n")
}

func letterAt(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return string(rune('A'+i/26-1)) + string(rune('A'+i%26))
}

// foldLetter upper-cases ASCII and full-width letters to ASCII.
func foldLetter(s string) string {
	r := []rune(s)[0]
	switch {
	case r >= 'ａ' && r <= 'ｚ':
		r = r - 'ａ' + 'A'
	case r >= 'Ａ' && r <= 'Ｚ':
		r = r - 'Ａ' + 'A'
	case r >= 'a' && r <= 'z':
		r = r - 'a' + 'A'
	}
	return string(r)
}
