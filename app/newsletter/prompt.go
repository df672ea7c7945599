package newsletter

import (
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/rss-digest/app/database"
)

const summaryRuneLimit = 400

const jsonRules = `
IMPORTANT RULES:
- You must output VALID JSON only.
- Do not output markdown code blocks (` + "```json ... ```" + `), just the raw JSON string.
- The JSON object must strictly follow this schema:
{
  "suggestedTitles": ["string", "string", "string", "string", "string"],
  "suggestedSubjectLines": ["string", "string", "string", "string", "string"],
  "body": "string (markdown allowed, MUST use \\n for newlines, NO literal newlines)",
  "topAnnouncements": ["string", "string", "string", "string", "string"],
  "additionalInfo": "string (optional)"
}
- Return EXACTLY 5 suggestedTitles
- Return EXACTLY 5 suggestedSubjectLines
- Return EXACTLY 5 topAnnouncements
- Strings must NOT contain literal newlines or control characters. Escape them (e.g., \\n).
`

// BuildPrompt renders the newsletter instructions followed by one block per article.
func BuildPrompt(req Request, articles []database.Article) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a newsletter covering %d articles published between %s and %s.\n",
		len(articles), req.StartDate.Format(time.DateOnly), req.EndDate.Format(time.DateOnly))

	if input := strings.TrimSpace(req.UserInput); input != "" {
		fmt.Fprintf(&b, "\nAdditional instructions from the editor:\n%s\n", input)
	}

	b.WriteString("\nArticles:\n")
	for i, article := range articles {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, article.Title)
		if article.Link != "" {
			fmt.Fprintf(&b, "   Link: %s\n", article.Link)
		}
		fmt.Fprintf(&b, "   Published: %s\n", article.PublishedAt.UTC().Format(time.RFC3339))
		if len(article.Categories) > 0 {
			fmt.Fprintf(&b, "   Categories: %s\n", strings.Join(article.Categories, ", "))
		}
		if summary := truncateRunes(strings.TrimSpace(article.Summary), summaryRuneLimit); summary != "" {
			fmt.Fprintf(&b, "   Summary: %s\n", summary)
		}
	}

	b.WriteString(jsonRules)
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
