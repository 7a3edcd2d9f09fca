// Package deel creates candidate profiles in Deel.
//
// Every call obtains a bearer token first (cached until a safety margin
// before expiry), then runs under the retry policy: 429 responses wait for
// the server's Retry-After, other transient failures back off
// exponentially. Errors never carry credentials.
package deel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
	"github.com/Dan-Hightower/hirebot/pkg/retry"
)

const (
	service           = "deel"
	statusAccepted    = "offer-accepted"
	candidatePrefix   = "hire_"
	defaultRetryAfter = 5 * time.Second
	maxErrorBody      = 512
)

// Candidate is what provisioning needs to know about a new hire.
type Candidate struct {
	FirstName string
	LastName  string
	Email     string
	Role      string
	// StartDate accepts any format offer.ParseDate reads, with a year.
	StartDate string
	Country   string
	State     string
}

// Config configures Client.
type Config struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	AuthBase     string
	TokenMargin  time.Duration
	CallTimeout  time.Duration
	Country      string
	LinkBase     string
	Retry        retry.Policy
	HTTPClient   *http.Client
}

// Client talks to the Deel REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenCache
	log    logger.Logger
}

// New creates a Client.
func New(cfg Config, log logger.Logger) (*Client, error) {
	const op = "deel.new"
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, failure.Newf(op, failure.ErrValidation, "client id and secret are required")
	}
	if cfg.APIBase == "" || cfg.AuthBase == "" {
		return nil, failure.Newf(op, failure.ErrValidation, "api and auth base URLs are required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	tokenURL := strings.TrimRight(cfg.AuthBase, "/") + "/tokens"
	return &Client{
		cfg:    cfg,
		http:   hc,
		tokens: newTokenCache(cfg.ClientID, cfg.ClientSecret, tokenURL, cfg.TokenMargin, cfg.CallTimeout, hc),
		log:    log,
	}, nil
}

// CandidateID is the deterministic remote identifier for an offer.
func CandidateID(offerID string) string {
	return candidatePrefix + offerID
}

type candidateRequest struct {
	ID        string  `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Status    string  `json:"status"`
	Email     string  `json:"email"`
	JobTitle  string  `json:"job_title"`
	StartDate string  `json:"start_date"`
	Country   string  `json:"country"`
	State     *string `json:"state"`
	Link      string  `json:"link"`
}

// CreateCandidate creates the candidate for offerID and returns its
// profile identifier. The identifier is derived from offerID, so a
// retried create targets the same remote record.
func (c *Client) CreateCandidate(ctx context.Context, offerID string, cand Candidate) (string, error) {
	const op = "deel.create_candidate"
	start, err := offer.RemoteDate(cand.StartDate)
	if err != nil {
		return "", err
	}
	id := CandidateID(offerID)
	body := candidateRequest{
		ID:        id,
		FirstName: cand.FirstName,
		LastName:  cand.LastName,
		Status:    statusAccepted,
		Email:     cand.Email,
		JobTitle:  cand.Role,
		StartDate: start,
		Country:   cand.Country,
		Link:      strings.TrimRight(c.cfg.LinkBase, "/") + "/" + id,
	}
	if body.Country == "" {
		body.Country = c.cfg.Country
	}
	if cand.State != "" {
		body.State = &cand.State
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", failure.WrapKind(op, failure.ErrPermanent, err)
	}

	err = c.do(ctx, "create_candidate", func(ctx context.Context) error {
		var resp struct {
			Message string `json:"message"`
		}
		if err := c.call(ctx, op, http.MethodPost, "/candidates", payload, &resp); err != nil {
			return err
		}
		if resp.Message != "Ok" {
			return failure.Newf(op, failure.ErrPermanent, "unexpected response message %q", resp.Message)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.log.Info(ctx, "candidate created", logger.String("offer_id", offerID), logger.String("candidate_id", id))
	return id, nil
}

// CandidateStatus returns the remote status of a candidate.
func (c *Client) CandidateStatus(ctx context.Context, id string) (string, error) {
	const op = "deel.candidate_status"
	var status string
	err := c.do(ctx, "candidate_status", func(ctx context.Context) error {
		var resp struct {
			Status string `json:"status"`
			Data   *struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		if err := c.call(ctx, op, http.MethodGet, "/candidates/"+url.PathEscape(id), nil, &resp); err != nil {
			return err
		}
		status = resp.Status
		if status == "" && resp.Data != nil {
			status = resp.Data.Status
		}
		if status == "" {
			return failure.Newf(op, failure.ErrPermanent, "response carried no status")
		}
		return nil
	})
	return status, err
}

// Check obtains a token to prove the credentials work.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

func (c *Client) do(ctx context.Context, name string, call func(ctx context.Context) error) error {
	start := time.Now()
	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RecordRetry(service)
		c.log.Warn(ctx, "retrying deel call", logger.String("op", name), logger.Int("attempt", attempt), logger.Duration("wait", wait), logger.Error(err))
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		if c.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
		}
		return call(ctx)
	})
	metrics.ObserveOutbound(service, name, failure.Label(err), time.Since(start))
	return err
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, rdr)
	if err != nil {
		return failure.WrapKind(op, failure.ErrPermanent, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return failure.WrapKind(op, failure.ErrTransient, err)
		}
		return failure.WrapKind(op, failure.ErrPermanent, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.invalidate()
		}
		err := failure.Newf(op, kindForStatus(resp.StatusCode), "status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests {
			return &rateLimitError{error: err, wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return failure.WrapKind(op, failure.ErrPermanent, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// rateLimitError carries the server's requested delay.
type rateLimitError struct {
	error
	wait time.Duration
}

func (e *rateLimitError) RetryAfter() time.Duration { return e.wait }
func (e *rateLimitError) Unwrap() error             { return e.error }

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func kindForStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return failure.ErrNotFound
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return failure.ErrTransient
	case code == http.StatusUnauthorized:
		// A rejected token is refreshed on the next attempt.
		return failure.ErrTransient
	default:
		return failure.ErrPermanent
	}
}
