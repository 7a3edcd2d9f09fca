package deel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

const defaultTokenTimeout = 30 * time.Second

// tokenCache hands out a bearer token, refreshing it when it is within
// margin of expiry. Concurrent refreshes collapse into one request that
// outlives any single caller's context, bounded by timeout.
type tokenCache struct {
	cc      clientcredentials.Config
	client  *http.Client
	margin  time.Duration
	timeout time.Duration
	clock   func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	tok   *oauth2.Token
}

func newTokenCache(id, secret, tokenURL string, margin, timeout time.Duration, client *http.Client) *tokenCache {
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	return &tokenCache{
		cc: clientcredentials.Config{
			ClientID:     id,
			ClientSecret: secret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		client:  client,
		margin:  margin,
		timeout: timeout,
		clock:   time.Now,
	}
}

func (c *tokenCache) valid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return c.clock().Add(c.margin).Before(tok.Expiry)
}

// Token returns a usable access token.
func (c *tokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.tok
	c.mu.Unlock()
	if c.valid(tok) {
		return tok.AccessToken, nil
	}

	ch := c.group.DoChan("token", func() (interface{}, error) {
		c.mu.Lock()
		cached := c.tok
		c.mu.Unlock()
		if c.valid(cached) {
			return cached, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		fresh, err := c.cc.Token(context.WithValue(fetchCtx, oauth2.HTTPClient, c.client))
		if err != nil {
			return nil, classifyTokenError(err)
		}
		c.mu.Lock()
		c.tok = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return "", failure.WrapKind("deel.token", failure.ErrTransient, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*oauth2.Token).AccessToken, nil
	}
}

// invalidate drops the cached token after the API rejected it.
func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

func classifyTokenError(err error) error {
	const op = "deel.token"
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return failure.WrapKind(op, failure.ErrPermanent, err)
		}
		return failure.WrapKind(op, kindForStatus(re.Response.StatusCode), err)
	}
	return failure.WrapKind(op, failure.ErrTransient, err)
}
