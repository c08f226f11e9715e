// Package httpfetch provides the remote input operation. The HTTP client is
// injected through the Module so tests can point it at an httptest server.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/ctxlog"
	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	Client *http.Client
}

func (m *Module) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (m *Module) runFetch(ctx context.Context, _ map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	url := cfg.Text("url")
	method := cfg.Text("method")
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Fetching remote input.", "method", method, "url", url)

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := m.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(cfg.Int("max_bytes"))))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	logger.Debug("Received response.", "status", resp.StatusCode, "bytes", len(body))

	return map[string]cty.Value{
		"body":   ptype.BytesVal(body),
		"status": ptype.IntVal(int64(resp.StatusCode)),
	}, nil
}

// Register registers the http_fetch operation with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	spec := op.Spec{
		ID:          "http_fetch",
		DisplayName: "HTTP Fetch",
		Category:    "input",
		Outputs: []op.PortSpec{
			{Name: "body", Type: ptype.Bytes},
			{Name: "status", Type: ptype.Integer},
		},
		Config: schema.New(
			schema.Attribute{
				Name:     "url",
				Type:     cty.String,
				Required: true,
			},
			schema.Attribute{
				Name:    "method",
				Type:    cty.String,
				OneOf:   schema.Strings("GET", "HEAD", "POST"),
				Default: schema.DefaultString("GET"),
			},
			schema.Attribute{
				Name:    "max_bytes",
				Type:    cty.Number,
				Min:     schema.Int64(1),
				Default: schema.DefaultInt(16 << 20),
			},
		),
	}
	return r.Register(spec, func() op.Operation { return op.Func(m.runFetch) })
}
