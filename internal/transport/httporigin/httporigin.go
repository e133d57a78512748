// Package httporigin implements transport.Origin with net/http byte-range
// requests, grounded in internal/rendezvous/client.go's idiom of a shared
// *http.Client, context-scoped requests, and explicit status-code checks
// (200 without a range, 206 with one — spec §6).
package httporigin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmcast/meshcore/internal/meshcore"
	"github.com/swarmcast/meshcore/internal/transport"
)

// Client is a transport.Origin backed by a real HTTP client.
type Client struct {
	HTTP *http.Client
}

// New creates a Client with the teacher's default 10s timeout
// (internal/rendezvous/client.go NewClient).
func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) Fetch(ctx context.Context, url string, rt transport.ResponseType, rng *transport.ByteRange) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", meshcore.ErrOriginFetchFailure, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	wantStatus := http.StatusOK
	if rng != nil {
		wantStatus = http.StatusPartialContent
	}
	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("%w: status %s", meshcore.ErrOriginFetchFailure, resp.Status)
	}

	if rt == transport.ResponseJSON {
		var v any
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", meshcore.ErrOriginFetchFailure, err)
		}
		return v, nil
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", meshcore.ErrOriginFetchFailure, err)
	}
	return b, nil
}
