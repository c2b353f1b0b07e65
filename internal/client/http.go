package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient implements API against the relay HTTP server.
type HTTPClient struct {
	base   string
	apiKey string
	hc     *http.Client
}

func NewHTTPClient(base, apiKey string) *HTTPClient {
	return &HTTPClient{
		base:   base,
		apiKey: apiKey,
		hc:     &http.Client{Timeout: 15 * time.Second},
	}
}

var _ API = (*HTTPClient)(nil)

func (c *HTTPClient) GetHistory(ctx context.Context, channelID string, beforeNo int64, limit int) (HistoryPage, error) {
	q := url.Values{}
	if beforeNo > 0 {
		q.Set("before", strconv.FormatInt(beforeNo, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/channels/" + url.PathEscape(channelID) + "/messages?" + q.Encode()

	var page HistoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return HistoryPage{}, err
	}
	return page, nil
}

func (c *HTTPClient) PostMessage(ctx context.Context, channelID, content, clientMsgID string) error {
	body := map[string]string{"content": content, "clientMsgId": clientMsgID}
	path := "/v1/channels/" + url.PathEscape(channelID) + "/messages"
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) MarkRead(ctx context.Context, channelID string, messageNo int64, messageID string) error {
	body := map[string]any{"messageNo": messageNo, "messageId": messageID}
	path := "/v1/channels/" + url.PathEscape(channelID) + "/read"
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
