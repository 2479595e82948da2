package normalize

import (
	"slices"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/width"

	"github.com/sells-group/ocs-answerer/internal/model"
)

// ErrNormalization means a raw answer cannot be coerced into its
// question type's canonical form.
var ErrNormalization = eris.New("normalize: answer does not fit question type")

// MultiSeparator joins multiple-choice letters.
const MultiSeparator = "#"

// Judgment holds the two canonical tokens for true/false answers.
type Judgment struct {
	True  string `yaml:"true" mapstructure:"true"`
	False string `yaml:"false" mapstructure:"false"`
}

// DefaultJudgment is the token pair quiz clients expect.
var DefaultJudgment = Judgment{True: "对", False: "错"}

var (
	trueWords = []string{
		"对", "正确", "√", "✓", "✔", "t", "true", "是", "yes", "y", "1", "right", "correct",
	}
	falseWords = []string{
		"错", "错误", "×", "✗", "✘", "x", "f", "false", "否", "no", "n", "0", "wrong", "incorrect",
	}
)

// Normalizer coerces answers into canonical per-type form.
type Normalizer struct {
	judgment Judgment
}

// New returns a Normalizer. Empty judgment tokens fall back to DefaultJudgment.
func New(j Judgment) *Normalizer {
	if j.True == "" {
		j.True = DefaultJudgment.True
	}
	if j.False == "" {
		j.False = DefaultJudgment.False
	}
	return &Normalizer{judgment: j}
}

// Judgment returns the configured token pair.
func (n *Normalizer) Judgment() Judgment { return n.judgment }

// Answer normalizes raw for qtype. Options, when present, restrict which
// letters are acceptable for choice questions.
func (n *Normalizer) Answer(raw string, qtype model.QuestionType, opts model.Options) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.Wrap(ErrNormalization, "normalize: empty answer")
	}

	switch qtype {
	case model.TypeSingle:
		letters := ExtractLetters(raw, opts)
		if len(letters) == 0 {
			return "", eris.Wrapf(ErrNormalization, "normalize: no option letter in %q", raw)
		}
		return letters[0], nil

	case model.TypeMultiple:
		letters := ExtractLetters(raw, opts)
		if len(letters) == 0 {
			return "", eris.Wrapf(ErrNormalization, "normalize: no option letters in %q", raw)
		}
		return strings.Join(letters, MultiSeparator), nil

	case model.TypeJudgment:
		return n.judge(raw, opts)

	default:
		// Free text is only trimmed; "x<0" is an answer, not markup.
		return raw, nil
	}
}

func (n *Normalizer) judge(raw string, opts model.Options) (string, error) {
	s := strings.ToLower(width.Fold.String(raw))
	s = strings.Trim(s, " \t\n.。!！")

	// A lone option letter refers to the option text, e.g. "A" for "A. 对".
	if len(opts) > 0 {
		if letters := ExtractLetters(s, opts); len(letters) == 1 && len([]rune(s)) == 1 {
			for _, o := range opts {
				if o.Letter == letters[0] && o.Text != "" {
					s = strings.ToLower(width.Fold.String(strings.TrimSpace(o.Text)))
				}
			}
		}
	}

	switch {
	case s == strings.ToLower(n.judgment.True) || slices.Contains(trueWords, s):
		return n.judgment.True, nil
	case s == strings.ToLower(n.judgment.False) || slices.Contains(falseWords, s):
		return n.judgment.False, nil
	}
	return "", eris.Wrapf(ErrNormalization, "normalize: %q is not a judgment", raw)
}

// ExtractLetters pulls option letters out of free text, de-duplicated in
// first-occurrence order. A run of ASCII letters counts when it is a
// single letter or entirely upper case ("ABD"); words such as "Answer"
// are skipped. With options present only their letters are kept.
func ExtractLetters(raw string, opts model.Options) []string {
	s := width.Fold.String(raw)

	var (
		out  []string
		seen = make(map[string]bool)
		run  []rune
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) == 1 || isUpperRun(run) {
			for _, r := range run {
				l := string(unicode.ToUpper(r))
				if seen[l] {
					continue
				}
				if len(opts) > 0 && !opts.Has(l) {
					continue
				}
				seen[l] = true
				out = append(out, l)
			}
		}
		run = run[:0]
	}

	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return out
}

func isUpperRun(run []rune) bool {
	for _, r := range run {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
