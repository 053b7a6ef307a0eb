package peers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// SnapshotResponse is the body of GET /getNodeRegistry.
type SnapshotResponse struct {
	Nodes []Node `json:"nodes"`
}

// Client talks to a registry node over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the registry at baseURL
// (e.g. "http://localhost:8080").
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    c,
	}
}

// Register publishes node to the registry.
func (c *Client) Register(ctx context.Context, node Node) error {
	body, err := json.Marshal(node)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/registerNode", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peers: register node %d: %w", node.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peers: register node %d: %s", node.ID, readDetail(resp))
	}
	return nil
}

// Snapshot implements Source by fetching the full node list.
func (c *Client) Snapshot(ctx context.Context) ([]Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/getNodeRegistry", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peers: snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peers: snapshot: %s", readDetail(resp))
	}

	var out SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("peers: snapshot: %w", err)
	}
	SortByID(out.Nodes)
	return out.Nodes, nil
}

func readDetail(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if detail := strings.TrimSpace(string(b)); detail != "" {
		return fmt.Sprintf("%s: %s", resp.Status, detail)
	}
	return resp.Status
}
