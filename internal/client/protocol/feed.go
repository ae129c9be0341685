package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

const feedReadLimit = 4 << 20

var errFeedClosed = errors.New("change feed closed by server")

// Subscribe opens the live change feed and hands every batch of valid
// changes to fn, in arrival order. fn runs on the reading goroutine.
func (c *HTTPClient) Subscribe(ctx context.Context, fn func([]models.RemoteChange)) error {
	conn, err := c.dialFeed(ctx)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(feedReadLimit)

	c.log.Info(ctx, "change feed connected")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return common.NewNetworkError("sync.subscribe", errFeedClosed)
			}
			return common.NewNetworkError("sync.subscribe", err)
		}

		var msg FeedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn(ctx, "malformed feed frame", "err", err)
			continue
		}
		if msg.Type != FeedTypeChanges {
			continue
		}
		if batch := c.validChanges(ctx, msg.Changes); len(batch) > 0 {
			fn(batch)
		}
	}
}

// dialFeed connects with the current access token, refreshing it once if
// the handshake is refused with 401.
func (c *HTTPClient) dialFeed(ctx context.Context) (*websocket.Conn, error) {
	const op = "sync.subscribe"

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	conn, status, err := c.dial(ctx, token)
	if err == nil {
		return conn, nil
	}
	if status != http.StatusUnauthorized {
		return nil, dialError(op, status, err)
	}

	fresh, rerr := c.Refresh(ctx)
	if rerr != nil {
		return nil, common.NewHTTPError(op, status, "")
	}
	conn, status, err = c.dial(ctx, fresh.AccessToken)
	if err != nil {
		return nil, dialError(op, status, err)
	}
	return conn, nil
}

func (c *HTTPClient) dial(ctx context.Context, token string) (*websocket.Conn, int, error) {
	h := http.Header{}
	h.Set(common.AuthorizationHeader, common.BearerPrefix+token)

	conn, resp, err := websocket.Dial(ctx, feedURL(c.base), &websocket.DialOptions{HTTPHeader: h})
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return conn, status, err
}

func dialError(op string, status int, err error) error {
	if status >= 400 {
		return common.NewHTTPError(op, status, err.Error())
	}
	return common.NewNetworkError(op, err)
}

func feedURL(base string) string {
	u := base + "/sync/subscribe"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
