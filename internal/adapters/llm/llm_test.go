package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/retry"
)

var fixedNow = time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)

func completionServer(t *testing.T, status int, content string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req["model"])

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": fixedNow.Unix(),
			"model":   "gpt-3.5-turbo",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, policy retry.Policy) *Client {
	return New(Config{
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/v1",
		CallTimeout: 2 * time.Second,
		Rules:       Rules{Now: func() time.Time { return fixedNow }},
		Retry:       policy,
	}, logger.Discard())
}

func TestParseScenario(t *testing.T) {
	content := `{"role":"Software Engineer","salary":"$130,000","equity":"0.66%","shares":"66,000","startDate":"May 1, 2026","slackHandle":"<@U123>"}`
	srv := completionServer(t, http.StatusOK, content, nil)
	c := newTestClient(srv, retry.Once())

	rec, err := c.Parse(context.Background(), "<@U123> as a Software Engineer at $130,000, 0.66% equity, starting May 1")
	require.NoError(t, err)
	assert.Equal(t, "Software Engineer", rec.Role)
	assert.Equal(t, "$130,000", rec.Salary)
	assert.Equal(t, "0.66%", rec.EquityPercent)
	assert.Equal(t, int64(66_000), rec.EquityShares)
	assert.Equal(t, "66,000", rec.SharesDisplay())
	assert.Equal(t, "May 1, 2026", rec.StartDate)
	assert.Equal(t, "<@U123>", rec.Handle)
	assert.Equal(t, offer.StateParsed, rec.State)
}

func TestParseRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := completionServer(t, http.StatusServiceUnavailable, "", &calls)
	c := newTestClient(srv, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := c.Parse(context.Background(), "@dan as a designer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrParse))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestParseRejectsIncompleteAnswer(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"role":"Designer","salary":"$90,000","equity":null,"startDate":"June 3","slackHandle":null}`, nil)
	c := newTestClient(srv, retry.Once())

	_, err := c.Parse(context.Background(), "as a designer at 90k starting June 3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrParse))
}

func TestDecode(t *testing.T) {
	rules := Rules{Now: func() time.Time { return fixedNow }}

	t.Run("recomputes shares and ignores the model's rounding", func(t *testing.T) {
		rec, err := decode(`{"role":"Engineer","salary":"130k","equity":"0.125%","shares":"13,000","startDate":"March 3rd, 2031","slackHandle":"@dan"}`,
			"@dan as Engineer at 130k with 0.125% starting March 3rd, 2031", rules)
		require.NoError(t, err)
		assert.Equal(t, "$130,000", rec.Salary)
		assert.Equal(t, "0.125%", rec.EquityPercent)
		assert.Equal(t, int64(12_500), rec.EquityShares)
		assert.Equal(t, "March 3, 2026", rec.StartDate)
	})

	t.Run("keeps a future year when allowed", func(t *testing.T) {
		r := rules
		r.AllowFutureYears = true
		rec, err := decode(`{"role":"Engineer","salary":"$1","equity":"1%","startDate":"March 3, 2031","slackHandle":null}`, "as Engineer", r)
		require.NoError(t, err)
		assert.Equal(t, "March 3, 2031", rec.StartDate)
	})

	t.Run("accepts numbers and code fences", func(t *testing.T) {
		rec, err := decode("```json\n{\"role\":\"Chief, of Staff\",\"salary\":150000,\"equity\":0.5,\"startDate\":\"Jan 5\"}\n```", "as Chief of Staff", rules)
		require.NoError(t, err)
		assert.Equal(t, "Chief of Staff", rec.Role)
		assert.Equal(t, "$150,000", rec.Salary)
		assert.Equal(t, "0.5%", rec.EquityPercent)
		assert.Equal(t, int64(50_000), rec.EquityShares)
		assert.Equal(t, "January 5, 2026", rec.StartDate)
	})

	t.Run("rejects structurally invalid answers", func(t *testing.T) {
		bad := []string{
			`not json`,
			`{"salary":"$1","equity":"1%","startDate":"May 1"}`,
			`{"role":"A","equity":"1%","startDate":"May 1"}`,
			`{"role":"A","salary":"$1","equity":"lots","startDate":"May 1"}`,
			`{"role":"A","salary":"$1","equity":"1%","startDate":"someday"}`,
			`{"role":"A","salary":"$1","equity":"120%","startDate":"May 1"}`,
		}
		for _, content := range bad {
			_, err := decode(content, "", rules)
			assert.Truef(t, errors.Is(err, failure.ErrParse), "content %s", content)
		}
	})
}

func TestVerbatimHandle(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name     string
		returned *string
		input    string
		want     string
	}{
		{"exact", str("<@U123>"), "hire <@U123> as a dev", "<@U123>"},
		{"brackets dropped by model", str("@U123"), "hire <@U123|dan> as a dev", "<@U123|dan>"},
		{"bare name", str("@dan.smith"), "@dan.smith as a dev", "@dan.smith"},
		{"name case differs", str("@Dan"), "@dan as a dev", "@dan"},
		{"invented handle", str("@bob"), "@dan as a dev", ""},
		{"null with mention in text", nil, "<@W999> as a dev", "<@W999>"},
		{"null without mention", nil, "as a dev", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, verbatimHandle(tt.returned, tt.input))
		})
	}
}

func TestPrompt(t *testing.T) {
	p := buildSystemPrompt(2026, offer.DefaultTotalShares)
	assert.Contains(t, p, "10,000,000 total shares")
	assert.Contains(t, p, `"May 1, 2026"`)
	assert.Contains(t, p, `"0.66%"`)
	assert.Equal(t, `Message: "as a \"dev\""`, buildUserPrompt(`as a "dev"`))
}
