package classify

import "strings"

// textPlaceholder is replaced by the transcript in a prompt template.
const textPlaceholder = "{text}"

// DefaultPromptTemplate is the instruction sent to the model. The transcript
// replaces {text}.
const DefaultPromptTemplate = `You are a text intent and context classifier for a personal note manager.

Analyze the user's instruction and produce structured JSON with these fields:
1. **intent**: Primary purpose (take_notes, manage_tasks, update_info, remove_notes, read_notes, search_notes, categorize)
2. **context**: Subject/category (linux, electronics, todolist, ai, finance, general, work, personal)
3. **action**: Specific operation (insert, append, update, delete, read, search, tag, archive)
4. **text**: Clean, organized note content
5. **metadata**: Optional dict with tags, priority, due_date if mentioned
6. **confidence**: Your confidence score (0-1)

Rules for text formatting:
- Convert verbal lists to bullet points
- Summarize long content
- Preserve technical details
- Use consistent terminology
- Add timestamps if time-sensitive

Example output format:
{
  "intent": "take_notes",
  "context": "linux",
  "action": "insert",
  "text": ["chmod command usage and syntax"],
  "metadata": {"tags": ["commands", "permissions"]},
  "confidence": 0.95
}

Now analyze: "{text}"

Return ONLY valid JSON:
`

// renderPrompt substitutes text into tmpl. A template without a placeholder
// gets the text appended.
func renderPrompt(tmpl, text string) string {
	if !strings.Contains(tmpl, textPlaceholder) {
		return tmpl + "\n" + text
	}
	return strings.ReplaceAll(tmpl, textPlaceholder, text)
}
