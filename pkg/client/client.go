// Package client provides the ECHO Go SDK for uploading, sharing and
// verifying audio proofs against an echod server.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/echoproof/echo/internal/verifier"
)

// DefaultMaxResponse bounds response bodies. Share responses carry the audio.
const DefaultMaxResponse = 256 << 20

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotYetAvailable is returned when shared content is still propagating.
	ErrNotYetAvailable = errors.New("content not yet available")
)

// UnavailableError reports a 503 from the share endpoint.
type UnavailableError struct {
	CID        string
	Details    string
	RetryAfter time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s (cid %s): %s", ErrNotYetAvailable, e.CID, e.Details)
}

func (e *UnavailableError) Unwrap() error { return ErrNotYetAvailable }

// Recording is a recording row as returned by the server.
type Recording struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	AudioCID  string    `json:"audio_cid,omitempty"`
	AquaCID   string    `json:"aqua_cid,omitempty"`
	IsPrivate bool      `json:"is_private,omitempty"`
	ShareID   string    `json:"share_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadRequest is the payload for Upload.
type UploadRequest struct {
	Audio      []byte
	AudioName  string
	Aqua       []byte
	EVMAddress string
	NostrNpub  string
}

// UploadResult is returned by Upload.
type UploadResult struct {
	ShareURL  string    `json:"shareUrl"`
	ShareID   string    `json:"shareId"`
	AudioCID  string    `json:"audioCid"`
	AquaCID   string    `json:"aquaCid"`
	Recording Recording `json:"recording"`
}

// Share is a shared recording with its audio, proof and server-side report.
type Share struct {
	Recording    Recording        `json:"recording"`
	AudioData    []byte           `json:"audioData"`
	AquaData     json.RawMessage  `json:"aquaData"`
	Verification *verifier.Report `json:"verification"`
}

// SignFunc signs a sign-in challenge message with the wallet and returns the
// hex signature.
type SignFunc func(ctx context.Context, message string) (string, error)

// Client is the ECHO SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	maxResponse int64

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a session token obtained elsewhere.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 2 * time.Minute,
		}
		return nil
	}
}

// New creates a Client for the echod server at base, e.g.
// "https://api.echo.example".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	c := &Client{
		base:        strings.TrimRight(base, "/") + "/api/v1",
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxResponse: DefaultMaxResponse,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Token returns the current session token, or "".
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken
}

// SignIn runs the wallet challenge flow for address and keeps the session
// token for later calls.
func (c *Client) SignIn(ctx context.Context, address string, sign SignFunc) (string, error) {
	var ch struct {
		Address string `json:"address"`
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, "/auth/challenge", map[string]string{"address": address}, &ch); err != nil {
		return "", fmt.Errorf("request challenge: %w", err)
	}

	sig, err := sign(ctx, ch.Message)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "/auth/verify", map[string]string{"address": ch.Address, "signature": sig}, &out); err != nil {
		return "", fmt.Errorf("verify challenge: %w", err)
	}

	c.mu.Lock()
	c.bearerToken = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

// Upload stores a recording and its proof and returns the share link.
func (c *Client) Upload(ctx context.Context, up UploadRequest) (*UploadResult, error) {
	name := up.AudioName
	if name == "" {
		name = "recording.webm"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFile(w, "audio", name, up.Audio); err != nil {
		return nil, err
	}
	if err := writeFile(w, "aqua", "aqua.json", up.Aqua); err != nil {
		return nil, err
	}
	_ = w.WriteField("evmAddress", up.EVMAddress)
	if up.NostrNpub != "" {
		_ = w.WriteField("nostrNpub", up.NostrNpub)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/recordings", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out UploadResult
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Share loads a shared recording. While the content is still propagating the
// error is an *UnavailableError.
func (c *Client) Share(ctx context.Context, shareID string) (*Share, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/share/"+url.PathEscape(shareID), nil)
	if err != nil {
		return nil, err
	}
	status, header, body, err := c.doRaw(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusServiceUnavailable {
		var e struct {
			Details string `json:"details"`
			CID     string `json:"cid"`
		}
		_ = json.Unmarshal(body, &e)
		ue := &UnavailableError{CID: e.CID, Details: e.Details}
		if secs, err := time.ParseDuration(header.Get("Retry-After") + "s"); err == nil {
			ue.RetryAfter = secs
		}
		return nil, ue
	}
	if err := statusError(status, req.URL.Path, body); err != nil {
		return nil, err
	}

	var out Share
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode share: %w", err)
	}
	return &out, nil
}

// Verify checks a proof on the server. files maps chain file names to bytes.
func (c *Client) Verify(ctx context.Context, aqua []byte, files map[string][]byte) (*verifier.Report, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFile(w, "aqua", "aqua.json", aqua); err != nil {
		return nil, err
	}
	for name, data := range files {
		if err := writeFile(w, "audio", name, data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/verify", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var report verifier.Report
	if err := c.doJSON(req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SaveUser creates or updates the user for an EVM address.
func (c *Client) SaveUser(ctx context.Context, evmAddress, nostrNpub, email string) error {
	return c.postJSON(ctx, "/users", map[string]string{
		"evmAddress": evmAddress,
		"nostrNpub":  nostrNpub,
		"email":      email,
	}, nil)
}

// ListRecordings returns the recordings of address, newest first.
func (c *Client) ListRecordings(ctx context.Context, address string) ([]Recording, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/users/"+url.PathEscape(address)+"/recordings", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Recordings []Recording `json:"recordings"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Recordings, nil
}

// DeleteRecording removes a recording owned by the signed-in wallet.
func (c *Client) DeleteRecording(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/recordings/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	status, _, body, err := c.doRaw(req)
	if err != nil {
		return err
	}
	if err := statusError(status, req.URL.Path, body); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doRaw executes an HTTP request, attaching the Bearer token if present.
func (c *Client) doRaw(req *http.Request) (int, http.Header, []byte, error) {
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse))
	if err != nil {
		return resp.StatusCode, resp.Header, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func statusError(status int, path string, body []byte) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", ErrNotFound, path, serverMessage(body))
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, serverMessage(body))
	default:
		return fmt.Errorf("server error %d: %s", status, serverMessage(body))
	}
}

func serverMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

func writeFile(w *multipart.Writer, field, name string, data []byte) error {
	fw, err := w.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}
