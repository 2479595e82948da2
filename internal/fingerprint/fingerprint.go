// Package fingerprint derives the identity key shared by the cache and
// the persisted store.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ocs-answerer/internal/model"
	"github.com/sells-group/ocs-answerer/internal/normalize"
)

const (
	fieldSep  = "|"
	optionSep = "\x1f"
)

// Fingerprint is a hex-encoded SHA-256 of the canonical request form.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short returns a prefix suitable for log fields.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// Canonical returns the pre-hash form: type, collapsed question and the
// sorted option set.
func Canonical(req model.Request) string {
	opts := make([]string, 0, len(req.Options))
	for _, o := range req.Options {
		opts = append(opts, o.Letter+"="+normalize.CollapseQuestion(o.Text))
	}
	sort.Strings(opts)

	return string(req.Type) + fieldSep +
		normalize.CollapseQuestion(req.Question) + fieldSep +
		strings.Join(opts, optionSep)
}

// Build computes the fingerprint for req.
func Build(req model.Request) (Fingerprint, error) {
	if normalize.CollapseQuestion(req.Question) == "" {
		return "", eris.Wrap(model.ErrInvalidRequest, "fingerprint: empty question")
	}
	sum := sha256.Sum256([]byte(Canonical(req)))
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
