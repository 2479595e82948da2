// Package ai asks a language model for an answer when every other source
// has missed.
package ai

import (
	"fmt"

	"github.com/sells-group/ocs-answerer/internal/model"
)

// DefaultAgentPrompt is the system prompt for questions without options.
const DefaultAgentPrompt = "你是一个专业的网课答题助手。请根据题目给出准确、简洁的答案。" +
	"如果是填空题，只返回需要填写的内容；如果是简答题，给出简明扼要的回答；" +
	"如果是判断题，只回答“对”或“错”。不要重复题目，不要添加任何解释。"

const choiceSystemPrompt = "你是OCS网课助手AI答题系统。请直接回答问题的正确选项，不要进行任何解释或讲解。" +
	"如果是单选题，只回答选项字母（如A、B、C、D）。" +
	"如果是多选题，用#连接选项字母（如A#B#C）。"

const (
	choiceMaxTokens = 50
	textMaxTokens   = 200
	temperature     = 0.1
)

// Prompt is a provider-neutral completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// BuildPrompt renders req. Requests with options ask for letters only;
// others use agentPrompt (or DefaultAgentPrompt) and ask for the answer
// text.
func BuildPrompt(req model.Request, agentPrompt string) Prompt {
	if req.HasOptions() {
		return Prompt{
			System:      choiceSystemPrompt,
			User:        fmt.Sprintf("问题：%s\n选项：%s", req.Question, req.Options.Text()),
			MaxTokens:   choiceMaxTokens,
			Temperature: temperature,
		}
	}
	if agentPrompt == "" {
		agentPrompt = DefaultAgentPrompt
	}
	return Prompt{
		System:      agentPrompt,
		User:        fmt.Sprintf("问题：%s", req.Question),
		MaxTokens:   textMaxTokens,
		Temperature: temperature,
	}
}
