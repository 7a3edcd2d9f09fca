// Package smoke drives a running bot through its public ingress: it checks
// liveness and sends signed synthetic slash commands.
package smoke

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Dan-Hightower/hirebot/internal/adapters/chat"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
)

// ErrUnhealthy is returned when the health probe fails.
var ErrUnhealthy = errors.New("bot is not healthy")

// Config controls a smoke run.
type Config struct {
	BaseURL       string
	SigningSecret string
	Command       string
	Text          string
	UserID        string
	ChannelID     string
	ResponseURL   string
	Requests      int
	Workers       int
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Report summarises a run.
type Report struct {
	Healthy  bool
	Sent     int64
	Queued   int64
	Busy     int64
	Answered int64 // acknowledged with any other text
	Rejected int64 // 4xx
	Failed   int64 // transport errors and 5xx
	Duration time.Duration
}

// OK reports whether every command was queued.
func (r Report) OK() bool {
	return r.Healthy && r.Sent > 0 && r.Queued == r.Sent
}

func (r Report) String() string {
	return fmt.Sprintf("healthy=%t sent=%d queued=%d busy=%d answered=%d rejected=%d failed=%d in %s",
		r.Healthy, r.Sent, r.Queued, r.Busy, r.Answered, r.Rejected, r.Failed, r.Duration.Round(time.Millisecond))
}

// Run probes /healthz and then sends cfg.Requests signed commands over
// cfg.Workers concurrent senders.
func Run(ctx context.Context, cfg Config, log logger.Logger) (Report, error) {
	if log == nil {
		log = logger.Discard()
	}
	cfg = withDefaults(cfg)
	start := time.Now()
	var rep Report

	if err := probe(ctx, cfg); err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	rep.Healthy = true
	log.Info(ctx, "bot healthy, sending commands", logger.String("url", cfg.BaseURL), logger.Int("requests", cfg.Requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Requests; i++ {
		g.Go(func() error {
			outcome := send(gctx, cfg)
			atomic.AddInt64(&rep.Sent, 1)
			switch outcome {
			case outcomeQueued:
				atomic.AddInt64(&rep.Queued, 1)
			case outcomeBusy:
				atomic.AddInt64(&rep.Busy, 1)
			case outcomeAnswered:
				atomic.AddInt64(&rep.Answered, 1)
			case outcomeRejected:
				atomic.AddInt64(&rep.Rejected, 1)
			default:
				atomic.AddInt64(&rep.Failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.Duration = time.Since(start)
	log.Info(ctx, "smoke run finished", logger.String("report", rep.String()))
	return rep, ctx.Err()
}

func withDefaults(cfg Config) Config {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Command == "" {
		cfg.Command = "/hire"
	}
	if cfg.Text == "" {
		cfg.Text = "@smoke-test as QA Engineer for $100,000 with 0.1% equity starting January 5"
	}
	if cfg.UserID == "" {
		cfg.UserID = "USMOKE"
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = "CSMOKE"
	}
	if cfg.Requests <= 0 {
		cfg.Requests = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return cfg
}

func probe(ctx context.Context, cfg Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	return nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeQueued
	outcomeBusy
	outcomeAnswered
	outcomeRejected
)

func send(ctx context.Context, cfg Config) outcome {
	body := url.Values{
		"command":      {cfg.Command},
		"text":         {cfg.Text},
		"user_id":      {cfg.UserID},
		"user_name":    {"smoke"},
		"channel_id":   {cfg.ChannelID},
		"response_url": {cfg.ResponseURL},
		"trigger_id":   {"smoke-" + uuid.NewString()},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/slack/commands", strings.NewReader(body))
	if err != nil {
		return outcomeFailed
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", Sign(cfg.SigningSecret, ts, body))

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return outcomeFailed
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return outcomeFailed
	case resp.StatusCode >= http.StatusBadRequest:
		return outcomeRejected
	}
	var ack struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&ack)
	switch ack.Text {
	case chat.TextWorking:
		return outcomeQueued
	case chat.TextBusy:
		return outcomeBusy
	}
	return outcomeAnswered
}

// Sign computes a Slack v0 request signature.
func Sign(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
