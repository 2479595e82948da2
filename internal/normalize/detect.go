package normalize

import (
	"regexp"
	"strings"

	"github.com/sells-group/ocs-answerer/internal/model"
)

var (
	blankMarker = regexp.MustCompile(`_{2,}|\(\s*\)|（\s*）`)
	judgeWords  = regexp.MustCompile(`对错|正确|错误|是否|对吗|判断`)
)

var typeTags = []struct {
	tags []string
	typ  model.QuestionType
}{
	{[]string{"【单选题】", "(单选题)", "（单选题）"}, model.TypeSingle},
	{[]string{"【多选题】", "(多选题)", "（多选题）"}, model.TypeMultiple},
	{[]string{"【判断题】", "(判断题)", "（判断题）"}, model.TypeJudgment},
	{[]string{"【填空题】", "(填空题)", "（填空题）"}, model.TypeCompletion},
}

// DetectType infers a question type from the question text and whether
// options were supplied. It is used when the caller omits the type.
func DetectType(question, rawOptions string) model.QuestionType {
	q := strings.TrimSpace(question)

	for _, tt := range typeTags {
		for _, tag := range tt.tags {
			if strings.HasPrefix(q, tag) {
				return tt.typ
			}
		}
	}

	if strings.TrimSpace(rawOptions) != "" {
		switch {
		case strings.Contains(q, "多选"):
			return model.TypeMultiple
		case strings.Contains(q, "判断"):
			return model.TypeJudgment
		default:
			return model.TypeSingle
		}
	}

	switch {
	case blankMarker.MatchString(q):
		return model.TypeCompletion
	case judgeWords.MatchString(q):
		return model.TypeJudgment
	case strings.Contains(q, "多选"):
		return model.TypeMultiple
	case strings.Contains(q, "单选"):
		return model.TypeSingle
	}
	return model.TypeCompletion
}
