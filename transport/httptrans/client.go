package httptrans

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/codec"
	"github.com/ChristianMct/ecd/errs"
)

// Client is the HTTP transport of a remote executor. It implements
// executor.Transport and executor.KeyRegistrar.
type Client struct {
	baseURL  string
	httpc    *http.Client
	stageDir string
	staged   bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds every HTTP exchange of the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpc.Timeout = d }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithStageDir stages request bodies in temporary files under dir, which are
// removed once the request completes. An empty dir uses the default
// temporary directory.
func WithStageDir(dir string) ClientOption {
	return func(c *Client) { c.stageDir, c.staged = dir, true }
}

// NewClient returns a client for the boundary at baseURL, such as
// "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpc: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute posts req to the boundary. Failures of the computation are
// reported in the result.
func (c *Client) Compute(ctx context.Context, req *api.OperationRequest) (*api.OperationResult, error) {
	res := new(api.OperationResult)
	if err := c.post(ctx, ComputePath, req.RequestID, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// RegisterKeys posts the public material in req to the boundary.
func (c *Client) RegisterKeys(ctx context.Context, req *api.RegisterKeysRequest) (*api.RegisterKeysResponse, error) {
	res := new(api.RegisterKeysResponse)
	if err := c.post(ctx, KeysPath, "", req.PublicMaterial, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path, requestID string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("cannot encode request: %w", err)
	}
	if !c.staged {
		return c.do(ctx, path, requestID, bytes.NewReader(body), int64(len(body)), out)
	}
	return codec.Stage(c.stageDir, body, func(name string) error {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		return c.do(ctx, path, requestID, f, int64(len(body)), out)
	})
}

func (c *Client) do(ctx context.Context, path, requestID string, body io.Reader, size int64, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er) == nil && resp.StatusCode < 500 {
			// the boundary rejected the request, retrying it cannot succeed
			if k, ok := errs.ParseKind(er.Error); ok {
				return fmt.Errorf("%w: %s rejected with status %d: %s", k, path, resp.StatusCode, er.Error)
			}
		}
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: malformed response: %w", path, err)
	}
	return nil
}
