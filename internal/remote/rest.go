package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TokenFunc supplies the current auth token for database requests.
// It is consulted per request so a refreshed token takes effect
// without rebuilding the client.
type TokenFunc func() string

// REST is a Store implementation over the hosted database's REST and
// streaming surface. Values live at {base}/{path}.json; subscriptions
// use the text/event-stream protocol with put/patch events.
type REST struct {
	hc      *resty.Client
	baseURL string
	token   TokenFunc
	logger  *zap.Logger
}

// NewREST creates a REST store client for the given database base URL.
func NewREST(baseURL string, token TokenFunc, logger *zap.Logger) *REST {
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second)
	return &REST{
		hc:      hc,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
	}
}

func (r *REST) request(ctx context.Context) *resty.Request {
	req := r.hc.R().SetContext(ctx)
	if r.token != nil {
		if tok := r.token(); tok != "" {
			req.SetQueryParam("auth", tok)
		}
	}
	return req
}

func (r *REST) ReadOnce(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := r.request(ctx).Get("/" + path + ".json")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("read %s: status %d", path, resp.StatusCode())
	}
	return presentValue(resp.Body()), nil
}

func (r *REST) Write(ctx context.Context, path string, value any) error {
	resp, err := r.request(ctx).SetBody(value).Put("/" + path + ".json")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("write %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func (r *REST) Update(ctx context.Context, path string, fields map[string]any) error {
	resp, err := r.request(ctx).SetBody(fields).Patch("/" + path + ".json")
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("update %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func (r *REST) Remove(ctx context.Context, path string) error {
	resp, err := r.request(ctx).Delete("/" + path + ".json")
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("remove %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func (r *REST) Append(ctx context.Context, path string, value any) (string, error) {
	resp, err := r.request(ctx).SetBody(value).Post("/" + path + ".json")
	if err != nil {
		return "", fmt.Errorf("append %s: %w", path, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("append %s: status %d", path, resp.StatusCode())
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("append %s: decode key: %w", path, err)
	}
	if out.Name == "" {
		return "", fmt.Errorf("append %s: no key in response", path)
	}
	return out.Name, nil
}

func (r *REST) QueryByPrefix(ctx context.Context, path, childKey, prefix string) (json.RawMessage, error) {
	resp, err := r.request(ctx).
		SetQueryParam("orderBy", jsonQuote(childKey)).
		SetQueryParam("startAt", jsonQuote(prefix)).
		SetQueryParam("endAt", jsonQuote(prefix+"\uf8ff")).
		Get("/" + path + ".json")
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", path, childKey, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("query %s by %s: status %d", path, childKey, resp.StatusCode())
	}
	return presentValue(resp.Body()), nil
}

// Subscribe opens a streaming connection for path. The reader goroutine
// delivers snapshots serially; the connection is re-established with
// backoff until the handle is cancelled or ctx is done.
func (r *REST) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &restSub{cancelFn: cancel}
	go r.stream(ctx, path, fn)
	return sub, nil
}

type restSub struct {
	once     sync.Once
	cancelFn context.CancelFunc
}

func (s *restSub) Cancel() {
	s.once.Do(s.cancelFn)
}

func (r *REST) stream(ctx context.Context, path string, fn func(Snapshot)) {
	backoff := time.Second
	for {
		err := r.streamOnce(ctx, path, fn)
		if ctx.Err() != nil {
			return
		}
		if err != nil && r.logger != nil {
			r.logger.Warn("stream interrupted, reconnecting",
				zap.String("path", path), zap.Duration("backoff", backoff), zap.Error(err))
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *REST) streamOnce(ctx context.Context, path string, fn func(Snapshot)) error {
	req := r.hc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream")
	if r.token != nil {
		if tok := r.token(); tok != "" {
			req.SetQueryParam("auth", tok)
		}
	}
	resp, err := req.Get("/" + path + ".json")
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("open stream: status %d", resp.StatusCode())
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := r.dispatch(ctx, path, event, data, fn); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// dispatch turns one streaming event into a full-value snapshot. A root
// put carries the whole value; any sub-path put or patch triggers a
// re-read so the listener always sees the full current value.
func (r *REST) dispatch(ctx context.Context, path, event, data string, fn func(Snapshot)) error {
	switch event {
	case "put", "patch":
		var payload struct {
			Path string          `json:"path"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("decode %s event: %w", event, err)
		}
		if event == "put" && payload.Path == "/" {
			fn(Snapshot{Path: path, Data: presentValue(payload.Data)})
			return nil
		}
		full, err := r.ReadOnce(ctx, path)
		if err != nil {
			return fmt.Errorf("refresh after %s: %w", event, err)
		}
		fn(Snapshot{Path: path, Data: full})
		return nil
	case "auth_revoked", "cancel":
		return fmt.Errorf("stream closed by server: %s", event)
	default:
		// keep-alive and unknown events are ignored.
		return nil
	}
}

// presentValue maps the wire encoding of "absent" (empty or the JSON
// literal null) to a nil RawMessage.
func presentValue(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(body)
}

// jsonQuote quotes a value for the database's query parameters, which
// expect JSON-encoded strings.
func jsonQuote(v string) string {
	data, _ := json.Marshal(v)
	return string(data)
}
