package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Default Pinata endpoints.
const (
	DefaultPinataUploadURL = "https://uploads.pinata.cloud/v3/files"
	DefaultPinataTimeout   = 30 * time.Second
)

// PinataConfig configures the Pinata store.
type PinataConfig struct {
	JWT string
	// Gateway is the dedicated gateway host, e.g. "example.mypinata.cloud".
	// A full URL is accepted too.
	Gateway   string
	UploadURL string
	Timeout   time.Duration
}

// Pinata stores blobs on IPFS through the Pinata upload API and reads them
// back through a gateway.
type Pinata struct {
	client    *resty.Client
	gateway   string
	uploadURL string
	logger    *zap.Logger
}

type pinataUploadResponse struct {
	Data struct {
		ID   string `json:"id"`
		CID  string `json:"cid"`
		Size int64  `json:"size"`
	} `json:"data"`
}

// NewPinata creates a Pinata store.
func NewPinata(cfg PinataConfig, logger *zap.Logger) (*Pinata, error) {
	if cfg.JWT == "" {
		return nil, fmt.Errorf("pinata: JWT is required")
	}
	if cfg.Gateway == "" {
		return nil, fmt.Errorf("pinata: gateway is required")
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultPinataUploadURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPinataTimeout
	}
	gateway := strings.TrimRight(cfg.Gateway, "/")
	if !strings.HasPrefix(gateway, "http://") && !strings.HasPrefix(gateway, "https://") {
		gateway = "https://" + gateway
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.JWT).
		SetHeader("User-Agent", "echod/1")

	return &Pinata{
		client:    client,
		gateway:   gateway,
		uploadURL: cfg.UploadURL,
		logger:    logger,
	}, nil
}

// Gateway returns the gateway base URL reads go through.
func (p *Pinata) Gateway() string { return p.gateway }

// Put uploads data as a file called name and returns its CID.
func (p *Pinata) Put(ctx context.Context, name string, data []byte) (string, error) {
	var out pinataUploadResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		SetMultipartFormData(map[string]string{
			"name":    name,
			"network": "public",
		}).
		SetResult(&out).
		Post(p.uploadURL)
	if err != nil {
		return "", fmt.Errorf("pinata upload %s: %w", name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("pinata upload %s: status %d: %s", name, resp.StatusCode(), truncate(resp.Body(), 200))
	}
	if out.Data.CID == "" {
		return "", fmt.Errorf("pinata upload %s: response carries no cid", name)
	}
	p.logger.Info("blob uploaded",
		zap.String("name", name),
		zap.String("cid", out.Data.CID),
		zap.Int("bytes", len(data)),
	)
	return out.Data.CID, nil
}

// Get reads cid through the gateway. JSON responses are returned parsed,
// text as a string and everything else as bytes.
func (p *Pinata) Get(ctx context.Context, cid string) (any, error) {
	if cid == "" {
		return nil, fmt.Errorf("%w: empty cid", ErrNotFound)
	}
	resp, err := p.client.R().
		SetContext(ctx).
		Get(p.gateway + "/ipfs/" + cid)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotYetAvailable, cid, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound, code == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	case code >= 300:
		return nil, fmt.Errorf("%w: %s: gateway status %d", ErrNotYetAvailable, cid, code)
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty response", ErrNotYetAvailable, cid)
	}

	ct := resp.Header().Get("Content-Type")
	switch {
	case strings.Contains(ct, "json"):
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return body, nil
		}
		return v, nil
	case strings.HasPrefix(ct, "text/"):
		return string(body), nil
	default:
		return body, nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
