// Package composer builds the chat messages sent to the generation model.
package composer

import (
	"strings"

	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/memory"
)

const answerSystemTemplate = `You are Sangam, an assistant that answers questions about the user's uploaded content.
Answer using only the retrieved context below.
If the context does not hold enough information to answer, say so plainly and do not make things up.
Keep answers clear, concise and well structured.

Context:
{context}`

const condenseTemplate = `Rewrite the follow-up question below as a standalone question that can be understood without the conversation history.
If the follow-up question already stands on its own, return it unchanged.
Reply with the question only.

Chat History:
{history}

Follow-Up Question: {question}
Standalone Question:`

const summaryTemplate = `You are Sangam, an assistant that analyses video content.
Below is the full transcript of a video. Provide:
1. A short summary of the main topics in two or three paragraphs
2. Three to five key takeaways as bullet points
3. Notable quotes, if there are any

Stay objective and well structured.

Transcript:
{transcript}`

// RenderHistory formats a conversation window as "Human:" and "Assistant:" lines.
func RenderHistory(window []memory.Turn) string {
	lines := make([]string, 0, len(window))
	for _, t := range window {
		switch t.Role {
		case memory.RoleUser:
			lines = append(lines, "Human: "+t.Content)
		case memory.RoleAssistant:
			lines = append(lines, "Assistant: "+t.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// CondenseMessages asks the model to turn question into a standalone question
// given the conversation window.
func CondenseMessages(window []memory.Turn, question string) []engine.Message {
	prompt := strings.NewReplacer(
		"{history}", RenderHistory(window),
		"{question}", question,
	).Replace(condenseTemplate)
	return []engine.Message{{Role: engine.RoleUser, Content: prompt}}
}

// AnswerMessages puts the retrieved context in a system message ahead of the
// question.
func AnswerMessages(context, question string) []engine.Message {
	system := strings.Replace(answerSystemTemplate, "{context}", context, 1)
	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: question},
	}
}

// SummaryMessages asks for a structured summary of a video transcript.
func SummaryMessages(transcript string) []engine.Message {
	prompt := strings.Replace(summaryTemplate, "{transcript}", transcript, 1)
	return []engine.Message{{Role: engine.RoleUser, Content: prompt}}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateMessageTokens sums EstimateTokens over message contents.
func EstimateMessageTokens(msgs []engine.Message) int {
	var n int
	for _, m := range msgs {
		n += EstimateTokens(m.Content)
	}
	return n
}
