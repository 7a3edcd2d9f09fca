// Package chat is the Slack messaging adapter: posting and editing
// messages, opening direct messages and resolving handles to member IDs.
package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
	"github.com/Dan-Hightower/hirebot/pkg/retry"
)

const service = "slack"

// Config configures Client.
type Config struct {
	Token        string
	APIURL       string
	DirectoryTTL time.Duration
	CallTimeout  time.Duration
	Retry        retry.Policy
	HTTPClient   *http.Client
}

// Client wraps the Slack Web API.
type Client struct {
	api  *slack.Client
	http *http.Client
	dir  *directory
	cfg  Config
	log  logger.Logger
}

// New creates a Client.
func New(cfg Config, log logger.Logger) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	opts := []slack.Option{slack.OptionHTTPClient(hc)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	c := &Client{api: slack.New(cfg.Token, opts...), http: hc, cfg: cfg, log: log}
	c.dir = newDirectory(c.listMembers, cfg.DirectoryTTL)
	return c
}

// PostMessage posts msg to channel and returns its timestamp.
func (c *Client) PostMessage(ctx context.Context, channel string, msg Message) (string, error) {
	const op = "chat.post_message"
	var ts string
	err := c.do(ctx, "post_message", func(ctx context.Context) error {
		_, t, err := c.api.PostMessageContext(ctx, channel, msgOptions(msg)...)
		if err != nil {
			return classify(op, err)
		}
		ts = t
		return nil
	})
	return ts, err
}

// UpdateMessage replaces the message at ts.
func (c *Client) UpdateMessage(ctx context.Context, channel, ts string, msg Message) error {
	const op = "chat.update_message"
	return c.do(ctx, "update_message", func(ctx context.Context) error {
		_, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts, msgOptions(msg)...)
		return classify(op, err)
	})
}

// OpenDirectChannel opens (or reuses) the DM channel with userID.
func (c *Client) OpenDirectChannel(ctx context.Context, userID string) (string, error) {
	const op = "chat.open_direct_channel"
	var id string
	err := c.do(ctx, "open_conversation", func(ctx context.Context) error {
		ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		if err != nil {
			return classify(op, err)
		}
		id = ch.ID
		return nil
	})
	return id, err
}

// ResolveHandle returns the member ID handle refers to. An embedded ID is
// used as is; otherwise the member directory is searched, refreshing it
// once on a miss.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	const op = "chat.resolve_handle"
	h := offer.ParseHandle(handle)
	if h.IsZero() {
		return "", failure.Newf(op, failure.ErrNotFound, "no handle given")
	}
	if h.Embedded() {
		return h.ID, nil
	}

	members, fresh, err := c.dir.Members(ctx, false)
	if err != nil {
		return "", err
	}
	m, ok := offer.MatchMember(members, h.Name)
	if !ok && !fresh {
		if members, _, err = c.dir.Members(ctx, true); err != nil {
			return "", err
		}
		m, ok = offer.MatchMember(members, h.Name)
	}
	if !ok {
		return "", failure.Newf(op, failure.ErrNotFound, "no member matches %q", h.Name)
	}
	c.log.Debug(ctx, "handle resolved", logger.String("handle", handle), logger.String("user_id", m.ID))
	return m.ID, nil
}

// Respond posts msg to an interaction's response_url.
func (c *Client) Respond(ctx context.Context, responseURL string, msg Message, replaceOriginal, inChannel bool) error {
	const op = "chat.respond"
	wm := &slack.WebhookMessage{
		Text:            msg.Text,
		ThreadTimestamp: msg.ThreadTS,
		ReplaceOriginal: replaceOriginal,
		ResponseType:    "ephemeral",
	}
	if inChannel {
		wm.ResponseType = "in_channel"
	}
	if len(msg.Blocks) > 0 {
		wm.Blocks = &slack.Blocks{BlockSet: msg.Blocks}
	}
	return c.do(ctx, "respond", func(ctx context.Context) error {
		return classify(op, slack.PostWebhookCustomHTTPContext(ctx, responseURL, c.http, wm))
	})
}

// Check calls auth.test and returns the bot's user name.
func (c *Client) Check(ctx context.Context) (string, error) {
	const op = "chat.check"
	var user string
	err := c.do(ctx, "auth_test", func(ctx context.Context) error {
		resp, err := c.api.AuthTestContext(ctx)
		if err != nil {
			return classify(op, err)
		}
		user = resp.User
		return nil
	})
	return user, err
}

func (c *Client) listMembers(ctx context.Context) ([]offer.Member, error) {
	const op = "chat.list_members"
	var members []offer.Member
	err := c.do(ctx, "users_list", func(ctx context.Context) error {
		users, err := c.api.GetUsersContext(ctx)
		if err != nil {
			return classify(op, err)
		}
		members = make([]offer.Member, 0, len(users))
		for _, u := range users {
			if u.IsBot {
				continue
			}
			members = append(members, offer.Member{
				ID:          u.ID,
				Username:    u.Name,
				DisplayName: u.Profile.DisplayName,
				RealName:    firstNonEmpty(u.RealName, u.Profile.RealName),
				Email:       u.Profile.Email,
				Deleted:     u.Deleted,
			})
		}
		return nil
	})
	return members, err
}

func (c *Client) do(ctx context.Context, name string, call func(ctx context.Context) error) error {
	start := time.Now()
	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RecordRetry(service)
		c.log.Warn(ctx, "retrying slack call", logger.String("op", name), logger.Int("attempt", attempt), logger.Duration("wait", wait), logger.Error(err))
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

func msgOptions(msg Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	if msg.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
	}
	return opts
}

// ErrorCode returns the Slack API error code carried by err, if any.
func ErrorCode(err error) string {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return "ratelimited"
	}
	return ""
}

var transientCodes = map[string]bool{
	"ratelimited":         true,
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
}

var notFoundCodes = map[string]bool{
	"user_not_found":    true,
	"channel_not_found": true,
	"message_not_found": true,
	"users_not_found":   true,
}

// rateLimitError carries Slack's requested delay.
type rateLimitError struct {
	error
	wait time.Duration
}

func (e *rateLimitError) RetryAfter() time.Duration { return e.wait }
func (e *rateLimitError) Unwrap() error             { return e.error }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &rateLimitError{error: failure.WrapKind(op, failure.ErrTransient, err), wait: rl.RetryAfter}
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		if sc.Code >= http.StatusInternalServerError {
			return failure.WrapKind(op, failure.ErrTransient, err)
		}
		return failure.WrapKind(op, failure.ErrPermanent, err)
	}
	if code := ErrorCode(err); code != "" {
		switch {
		case transientCodes[code]:
			return failure.WrapKind(op, failure.ErrTransient, err)
		case notFoundCodes[code]:
			return failure.WrapKind(op, failure.ErrNotFound, err)
		}
		return failure.WrapKind(op, failure.ErrPermanent, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return failure.WrapKind(op, failure.ErrTransient, err)
	}
	return failure.WrapKind(op, failure.ErrPermanent, err)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
