package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const DefaultSnapshotTimeout = 3 * time.Second

// Snapshots is the read side of the CRUD layer.
type Snapshots interface {
	Posts(ctx context.Context) ([]Post, error)
	Comments(ctx context.Context, postID string) ([]Comment, error)
}

// SnapshotClient reads GET /posts and GET /posts/{id}/comments.
type SnapshotClient struct {
	base  string
	token string
	hc    *http.Client
}

func NewSnapshotClient(base, token string) *SnapshotClient {
	if base == "" {
		base = "http://post-service:8082"
	}
	return &SnapshotClient{
		base:  base,
		token: token,
		hc:    &http.Client{Timeout: DefaultSnapshotTimeout},
	}
}

func (c *SnapshotClient) Posts(ctx context.Context) ([]Post, error) {
	var out struct {
		Posts []Post `json:"posts"`
	}
	if err := c.get(ctx, "/posts", &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (c *SnapshotClient) Comments(ctx context.Context, postID string) ([]Comment, error) {
	var out struct {
		Comments []Comment `json:"comments"`
	}
	if err := c.get(ctx, "/posts/"+url.PathEscape(postID)+"/comments", &out); err != nil {
		return nil, err
	}
	for i := range out.Comments {
		if out.Comments[i].PostID == "" {
			out.Comments[i].PostID = postID
		}
	}
	return out.Comments, nil
}

func (c *SnapshotClient) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("snapshot %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
