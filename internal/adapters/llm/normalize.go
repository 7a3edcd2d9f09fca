package llm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

// mentionTokenRe finds handle-looking tokens in the command text.
var mentionTokenRe = regexp.MustCompile(`<@[UW][A-Z0-9]+(?:\|[^>]*)?>|<@[\w.\-]+>|@[\w.\-]*\w`)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// extraction is the JSON object the model is asked to return. Shares are
// read but never trusted.
type extraction struct {
	Role        flexString `json:"role"`
	Salary      flexString `json:"salary"`
	Equity      flexString `json:"equity"`
	Shares      flexString `json:"shares"`
	StartDate   flexString `json:"startDate"`
	SlackHandle *string    `json:"slackHandle"`
}

// cleanMarkdownJSON removes code fences a model may wrap around its answer.
func cleanMarkdownJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

// Rules controls post-validation of a model answer.
type Rules struct {
	TotalShares      int64
	AllowFutureYears bool
	Now              func() time.Time
}

func (r Rules) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Rules) totalShares() int64 {
	if r.TotalShares > 0 {
		return r.TotalShares
	}
	return offer.DefaultTotalShares
}

// decode turns raw model content into an offer record in state PARSED.
// Every field is re-derived locally; the model only locates the values.
func decode(content, input string, rules Rules) (offer.Record, error) {
	const op = "llm.decode"
	var ex extraction
	if err := json.Unmarshal([]byte(cleanMarkdownJSON(content)), &ex); err != nil {
		return offer.Record{}, failure.WrapKind(op, failure.ErrParse, err)
	}

	rec := offer.Record{State: offer.StateParsed}

	rec.Role = offer.CleanRole(string(ex.Role))
	if rec.Role == "" {
		return offer.Record{}, failure.Newf(op, failure.ErrParse, "missing role")
	}
	if ex.Salary == "" {
		return offer.Record{}, failure.Newf(op, failure.ErrParse, "missing salary")
	}
	salary, err := offer.NormalizeSalary(string(ex.Salary))
	if err != nil {
		return offer.Record{}, err
	}
	rec.Salary = salary

	if ex.Equity == "" {
		return offer.Record{}, failure.Newf(op, failure.ErrParse, "missing equity")
	}
	equity, err := offer.NormalizeEquity(string(ex.Equity))
	if err != nil {
		return offer.Record{}, err
	}
	rec.EquityPercent = equity
	if rec.EquityShares, err = offer.Shares(equity, rules.totalShares()); err != nil {
		return offer.Record{}, err
	}

	if ex.StartDate == "" {
		return offer.Record{}, failure.Newf(op, failure.ErrParse, "missing start date")
	}
	start, err := offer.NormalizeStartDate(string(ex.StartDate), rules.now(), rules.AllowFutureYears)
	if err != nil {
		return offer.Record{}, err
	}
	rec.StartDate = offer.DisplayDate(start)

	rec.Handle = verbatimHandle(ex.SlackHandle, input)
	return rec, nil
}

// verbatimHandle returns the handle exactly as the input wrote it. A
// returned handle that does not occur in the input is dropped; a missing
// one falls back to the first mention in the input.
func verbatimHandle(returned *string, input string) string {
	tokens := mentionTokenRe.FindAllString(input, -1)
	if returned == nil || strings.TrimSpace(*returned) == "" {
		if len(tokens) > 0 {
			return tokens[0]
		}
		return ""
	}
	want := offer.ParseHandle(*returned)
	for _, tok := range tokens {
		if tok == want.Raw {
			return tok
		}
	}
	for _, tok := range tokens {
		got := offer.ParseHandle(tok)
		if want.ID != "" && got.ID == want.ID {
			return tok
		}
		if want.ID == "" && want.Name != "" &&
			(strings.EqualFold(got.Name, want.Name) || strings.EqualFold(got.ID, want.Name)) {
			return tok
		}
	}
	return ""
}
