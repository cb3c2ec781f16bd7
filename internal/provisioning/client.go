package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrNode = errors.New("master node request failed")

// Node is the master node API used for provisioning.
type Node interface {
	CreateConfig(ctx context.Context, req ConfigRequest) (taskID string, err error)
	RenewConfig(ctx context.Context, req ConfigRequest) (taskID string, err error)
	TaskStatus(ctx context.Context, taskID string) (*Task, error)
	Servers(ctx context.Context) ([]NodeServer, error)
}

type ConfigRequest struct {
	OrderID      uint   `json:"order_id,omitempty"`
	ConnectionID uint   `json:"connection_id,omitempty"`
	RenewOf      uint   `json:"renew_of,omitempty"`
	TelegramID   int64  `json:"tg_id"`
	Server       string `json:"server_id"`
	Protocol     string `json:"protocol"`
	Months       int    `json:"months"`
	Devices      int    `json:"devices"`
}

type Task struct {
	TaskID  string
	Status  string
	Message string
	Config  string
}

type NodeServer struct {
	ID      string
	Country string
	PingMS  int
	Status  string
	WhiteIP string
	Stats   string
}

// Client talks to the master node over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) CreateConfig(ctx context.Context, req ConfigRequest) (string, error) {
	return c.requestTask(ctx, "/configs/create", req)
}

func (c *Client) RenewConfig(ctx context.Context, req ConfigRequest) (string, error) {
	return c.requestTask(ctx, "/configs/renew", req)
}

func (c *Client) requestTask(ctx context.Context, path string, req ConfigRequest) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
		ID     string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		out.TaskID = out.ID
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("%w: %s: response has no task_id", ErrNode, path)
	}
	return out.TaskID, nil
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (*Task, error) {
	var out struct {
		Status     string  `json:"status"`
		Message    string  `json:"message"`
		Config     *string `json:"config"`
		ConfigText *string `json:"config_text"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	t := &Task{TaskID: taskID, Status: strings.ToLower(out.Status), Message: out.Message}
	if t.Status == "" {
		t.Status = "pending"
	}
	switch {
	case out.Config != nil:
		t.Config = *out.Config
	case out.ConfigText != nil:
		t.Config = *out.ConfigText
	}
	return t, nil
}

type rawServer struct {
	ServerID string          `json:"server_id"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Country  string          `json:"country"`
	PingMS   json.RawMessage `json:"ping_ms"`
	Ping     json.RawMessage `json:"ping"`
	Status   string          `json:"status"`
	WhiteIP  string          `json:"white_ip"`
	Stats    string          `json:"stats"`
}

func (c *Client) Servers(ctx context.Context) ([]NodeServer, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/servers", nil, &raw); err != nil {
		return nil, err
	}
	var items []rawServer
	var wrapped struct {
		Servers []rawServer `json:"servers"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Servers != nil {
		items = wrapped.Servers
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode servers: %v", ErrNode, err)
	}

	servers := make([]NodeServer, 0, len(items))
	for _, it := range items {
		s := NodeServer{
			ID:      firstNonEmpty(it.ServerID, it.ID, it.Name, "unknown"),
			Country: strings.ToLower(it.Country),
			PingMS:  parsePing(it.PingMS, it.Ping),
			Status:  strings.ToLower(firstNonEmpty(it.Status, "unknown")),
			WhiteIP: it.WhiteIP,
			Stats:   it.Stats,
		}
		if s.Country == "" && strings.Contains(s.ID, "-") {
			s.Country = strings.ToLower(strings.SplitN(s.ID, "-", 2)[0])
		}
		servers = append(servers, s)
	}
	return servers, nil
}

type envelope struct {
	OK     *bool           `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNode, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrNode, path, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s %s: HTTP %d: %s", ErrNode, method, path, resp.StatusCode, truncate(string(raw), 250))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// a bare JSON array is a valid unwrapped result
		env = envelope{Result: raw}
	}
	if env.OK != nil && !*env.OK {
		return fmt.Errorf("%w: %s %s: api error %q", ErrNode, method, path, env.Error)
	}
	result := env.Result
	if len(result) == 0 {
		result = raw
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("%w: %s %s: invalid json: %v", ErrNode, method, path, err)
	}
	return nil
}

func parsePing(values ...json.RawMessage) int {
	for _, v := range values {
		if len(v) == 0 || string(v) == "null" {
			continue
		}
		s := strings.Trim(string(v), `"`)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
		return 9999
	}
	return 9999
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
