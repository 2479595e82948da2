package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"tags removed", "<p>什么是<b>Go</b>?</p>", "什么是Go?"},
		{"script block", "题目<script>alert(1)</script>内容", "题目内容"},
		{"style block", "<style>.a{color:red}</style>题目", "题目"},
		{"newline runs", "line1\n\n\nline2", "line1\nline2"},
		{"space runs and tabs", "  a   b\tc  ", "a bc"},
		{"upload noise", "请作答 点击上传附件 xx", "请作答"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestCollapseQuestion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "What is Go?", CollapseQuestion("  What\n\tis   Go? "))
	assert.Equal(t, "Case Kept", CollapseQuestion("Case   Kept"))
	assert.Equal(t,
		"\u00e9tude",
		CollapseQuestion("e\u0301tude"),
		"NFC composes combining marks")
}
