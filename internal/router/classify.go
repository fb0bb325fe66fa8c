package router

import "strings"

// Task types assigned by ClassifyTask.
const (
	TaskCode         = "code"
	TaskCreative     = "creative"
	TaskReasoning    = "reasoning"
	TaskMultilingual = "multilingual"
	TaskGeneral      = "general"
)

// taskKeywords is checked in order; the first group with a hit wins.
var taskKeywords = []struct {
	task  string
	words []string
}{
	{TaskCode, []string{"code", "function", "debug", "program"}},
	{TaskCreative, []string{"story", "poem", "creative", "imagine"}},
	{TaskReasoning, []string{"analyze", "explain", "summarize", "reasoning"}},
	{TaskMultilingual, []string{"translate", "language", "french", "spanish"}},
}

// ClassifyTask labels a prompt with the kind of work it asks for, using
// keyword matching over the lowercased text. Prompts that match nothing
// are general.
func ClassifyTask(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, group := range taskKeywords {
		for _, word := range group.words {
			if strings.Contains(lower, word) {
				return group.task
			}
		}
	}
	return TaskGeneral
}
