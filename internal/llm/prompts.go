package llm

import (
	"fmt"
	"unicode/utf8"
)

// maxPromptChars bounds the article text pasted into a prompt.
const maxPromptChars = 12000

// SummaryPrompt asks for a short paraphrasing summary as a JSON object.
func SummaryPrompt(text string) string {
	return fmt.Sprintf(`Summarize the following news article in two or three sentences.
Write in the language of the article and paraphrase instead of copying sentences.

Respond with JSON only: {"summary": "..."}

Article:
%s`, clip(text))
}

// AnswerPrompt asks a question about an article.
func AnswerPrompt(text, question string) string {
	return fmt.Sprintf(`You answer questions about a news article. Use only the article below.
If the article does not contain the answer, say so briefly.
Answer in the language of the question.

Article:
%s

Question: %s`, clip(text), question)
}

func clip(text string) string {
	if utf8.RuneCountInString(text) <= maxPromptChars {
		return text
	}
	return string([]rune(text)[:maxPromptChars])
}
