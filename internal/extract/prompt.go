package extract

import (
	"fmt"
	"time"
)

const memoryPromptTemplate = `Extract any facts, preferences, or important details worth remembering from this conversation.
Be concise but preserve important details. If nothing worth remembering, respond with "NOTHING".

User: %s
Assistant: %s

Extracted facts (markdown bullet points, or NOTHING):`

const reminderPromptTemplate = `Current time: %s

Does this message contain a reminder, todo, or task to remember? If yes, extract it.
Respond in this exact format:
REMINDER: <task text>
DUE: <ISO datetime like 2024-02-01T17:00, or NONE if no specific time>

If no reminder/todo, respond with just: NONE

User message: %s`

// BuildMemoryPrompt asks the model for facts worth keeping from one exchange.
func BuildMemoryPrompt(userMessage, reply string) string {
	return fmt.Sprintf(memoryPromptTemplate, userMessage, reply)
}

// BuildReminderPrompt asks the model whether message contains a task.
func BuildReminderPrompt(message string, now time.Time) string {
	return fmt.Sprintf(reminderPromptTemplate, now.Format("2006-01-02 15:04"), message)
}
