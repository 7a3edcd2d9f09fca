package llm

import (
	"fmt"

	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

// buildSystemPrompt creates the extraction instructions for the model.
func buildSystemPrompt(year int, totalShares int64) string {
	return fmt.Sprintf(`You extract structured hiring details from a short Slack message.

Formatting:
1. Salary is a full number with commas and a dollar sign ("$130,000", not "$130k").
2. Equity is a percentage with the EXACT decimal places from the input. Never round ("0.66%%" stays "0.66%%").
3. Shares are the equity percentage of %s total shares, with commas (0.66%% is "66,000").
4. Start date is written in full with the year %d ("May 1" becomes "May 1, %d").

Parsing rules:
1. Slack handle: copy it exactly as written. Keep "<@U1234>" or "@dan.smith" unchanged, angle brackets and @ included. Use null when there is none.
2. The role is what follows "as a" or "as". It is a job title, never the person's name.
3. Remove commas inside the role.
4. Be flexible about phrasing. Look for salary, compensation and equity wherever they appear.

Return only a JSON object with exactly these keys:
{
  "role": "job title",
  "salary": "formatted salary",
  "equity": "exact equity percentage",
  "shares": "share count with commas",
  "startDate": "full date",
  "slackHandle": "handle as written, or null"
}`, offer.FormatInt(totalShares), year, year)
}

// buildUserPrompt wraps the raw command text.
func buildUserPrompt(text string) string {
	return fmt.Sprintf("Message: %q", text)
}
