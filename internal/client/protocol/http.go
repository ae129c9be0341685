package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/retry"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/netx"
	"github.com/dmitrijs2005/notesync/internal/schema"
)

// Config configures an HTTPClient. BaseURL is the server root; the
// versioned API path is appended.
type Config struct {
	BaseURL    string
	DeviceID   string
	HTTPClient *http.Client
	Retry      retry.Options
	Logger     logging.Logger
	Now        func() time.Time
}

type HTTPClient struct {
	base     string
	deviceID string
	hc       *http.Client
	retry    retry.Options
	tokens   TokenStore
	log      logging.Logger
	now      func() time.Time
	refresh  singleflight.Group
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config, tokens TokenStore) *HTTPClient {
	c := &HTTPClient{
		base:     strings.TrimRight(cfg.BaseURL, "/") + common.APIVersionPath,
		deviceID: cfg.DeviceID,
		hc:       cfg.HTTPClient,
		retry:    cfg.Retry,
		tokens:   tokens,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: 30 * time.Second}
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.log.Warn(context.Background(), "request failed, retrying", "attempt", attempt, "delay", delay, "err", err)
		}
	}
	return c
}

func (c *HTTPClient) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	var resp PullResponse
	if err := c.call(ctx, "sync.pull", http.MethodPost, "/sync/pull", req, &resp, true); err != nil {
		return nil, err
	}
	resp.Changes = c.validChanges(ctx, resp.Changes)
	return &resp, nil
}

func (c *HTTPClient) Push(ctx context.Context, changes []models.Change, checkpoint string) (*PushResponse, error) {
	req := PushRequest{Changes: changes, Checkpoint: checkpoint, DeviceID: c.deviceID}
	if req.Changes == nil {
		req.Changes = []models.Change{}
	}
	var resp PushResponse
	if err := c.call(ctx, "sync.push", http.MethodPost, "/sync/push", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "sync.status", http.MethodGet, "/sync/status", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ResolveConflicts(ctx context.Context, resolutions []models.Resolution) error {
	return c.call(ctx, "sync.resolve", http.MethodPost, "/sync/resolve", resolveRequest{Conflicts: resolutions}, nil, true)
}

// Register creates the account and stores the issued tokens.
func (c *HTTPClient) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "auth.register", "/auth/register", req)
}

// Login stores the issued tokens.
func (c *HTTPClient) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "auth.login", "/auth/login", req)
}

func (c *HTTPClient) authenticate(ctx context.Context, op, path string, body any) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.call(ctx, op, http.MethodPost, path, body, &resp, false); err != nil {
		return nil, err
	}
	resp.Tokens.Stamp(c.now())
	if err := c.tokens.SaveTokens(ctx, &resp.Tokens); err != nil {
		return nil, common.NewPersistenceError(op, err)
	}
	return &resp, nil
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers share one request.
func (c *HTTPClient) Refresh(ctx context.Context) (*models.AuthTokens, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.AuthTokens), nil
}

func (c *HTTPClient) doRefresh(ctx context.Context) (*models.AuthTokens, error) {
	cur, err := c.tokens.Tokens(ctx)
	if err != nil {
		return nil, common.NewPersistenceError("auth.refresh", err)
	}
	if cur == nil || cur.RefreshToken == "" {
		return nil, common.NewAuthError("auth.refresh", common.ErrNotAuthenticated)
	}

	var resp AuthResponse
	body := refreshRequest{RefreshToken: cur.RefreshToken, DeviceID: c.deviceID}
	if err := c.roundTrip(ctx, "auth.refresh", http.MethodPost, "/auth/refresh", body, &resp, ""); err != nil {
		return nil, err
	}

	t := resp.Tokens
	if t.RefreshToken == "" {
		t.RefreshToken = cur.RefreshToken
	}
	t.Stamp(c.now())
	if err := c.tokens.SaveTokens(ctx, &t); err != nil {
		return nil, common.NewPersistenceError("auth.refresh", err)
	}
	return &t, nil
}

// Logout revokes the refresh token on the server when it can and always
// clears the local tokens. Only a local failure is returned.
func (c *HTTPClient) Logout(ctx context.Context) error {
	cur, err := c.tokens.Tokens(ctx)
	if err == nil && cur != nil {
		body := refreshRequest{RefreshToken: cur.RefreshToken, DeviceID: c.deviceID}
		if err := c.roundTrip(ctx, "auth.logout", http.MethodPost, "/auth/logout", body, nil, cur.AccessToken); err != nil {
			c.log.Warn(ctx, "server logout failed", "err", err)
		}
	}
	if err := c.tokens.ClearTokens(ctx); err != nil {
		return common.NewPersistenceError("auth.logout", err)
	}
	return nil
}

func (c *HTTPClient) PresignAttachment(ctx context.Context, req PresignRequest) (*PresignResponse, error) {
	var resp PresignResponse
	if err := c.call(ctx, "attachments.presign", http.MethodPost, "/attachments/presign", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadAttachment PUTs body to a presigned URL under the retry controller.
func (c *HTTPClient) UploadAttachment(ctx context.Context, url, contentType string, body []byte) error {
	res := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		if err := netx.UploadToPresignedURL(ctx, c.hc, url, contentType, body); err != nil {
			return struct{}{}, common.NewNetworkError("attachments.upload", err)
		}
		return struct{}{}, nil
	})
	return res.Err
}

// call runs one API call under the retry controller. Authenticated calls
// get one token refresh per call, on the first 401.
func (c *HTTPClient) call(ctx context.Context, op, method, path string, body, out any, authed bool) error {
	refreshed := false
	res := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		if !authed {
			return struct{}{}, c.roundTrip(ctx, op, method, path, body, out, "")
		}

		token, err := c.accessToken(ctx)
		if err != nil {
			return struct{}{}, err
		}
		err = c.roundTrip(ctx, op, method, path, body, out, token)
		if common.KindOf(err) != common.KindAuth || refreshed {
			return struct{}{}, err
		}

		refreshed = true
		fresh, rerr := c.Refresh(ctx)
		if rerr != nil {
			c.log.Warn(ctx, "token refresh failed", "op", op, "err", rerr)
			return struct{}{}, err
		}
		return struct{}{}, c.roundTrip(ctx, op, method, path, body, out, fresh.AccessToken)
	})
	return res.Err
}

func (c *HTTPClient) accessToken(ctx context.Context) (string, error) {
	t, err := c.tokens.Tokens(ctx)
	if err != nil {
		return "", common.NewPersistenceError("auth.tokens", err)
	}
	if t == nil || t.AccessToken == "" {
		return "", common.NewAuthError("auth.tokens", common.ErrNotAuthenticated)
	}
	return t.AccessToken, nil
}

// roundTrip performs exactly one HTTP exchange and unwraps the envelope
// into out.
func (c *HTTPClient) roundTrip(ctx context.Context, op, method, path string, body, out any, token string) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return common.NewValidationError(op, fmt.Sprintf("encode request: %v", err))
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return common.NewValidationError(op, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return common.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.NewNetworkError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.NewHTTPError(op, resp.StatusCode, errorMessage(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &common.Error{Kind: common.KindServer, Op: op, Status: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	if !env.Success {
		return common.NewValidationError(op, errorMessage(raw))
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &common.Error{Kind: common.KindServer, Op: op, Status: resp.StatusCode, Message: "malformed response data", Err: err}
	}
	return nil
}

// errorMessage extracts a human message from an error body. It accepts
// {message}, {error: "..."} and {error: {message}}, and falls back to the
// raw text.
func errorMessage(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"message", "error.message", "error"} {
			if r := gjson.GetBytes(raw, path); r.Exists() && r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// validChanges drops inbound changes whose payload fails validation.
func (c *HTTPClient) validChanges(ctx context.Context, in []models.RemoteChange) []models.RemoteChange {
	out := in[:0:0]
	for _, ch := range in {
		if err := ValidateRemote(ch); err != nil {
			c.log.Warn(ctx, "dropping invalid remote change", "id", ch.ID, "record", ch.RecordID, "err", err)
			continue
		}
		out = append(out, ch)
	}
	return out
}

// ValidateRemote checks a remote change's shape and, unless it is a
// removal, its payload.
func ValidateRemote(ch models.RemoteChange) error {
	if ch.RecordID == "" {
		return common.NewValidationError("protocol.validate", "missing recordId")
	}
	switch ch.Action {
	case models.RemoteRemoved:
		return nil
	case models.RemoteCreated, models.RemoteUpdated:
		return schema.Validate(ch.Table, ch.Data)
	default:
		return common.NewValidationError("protocol.validate", fmt.Sprintf("unknown action %q", ch.Action))
	}
}
