// Package apiclient talks to closetd over HTTP and its websocket push
// channel. It is what the CLI uses as its status source.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/http/dto"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

const DefaultBaseURL = "http://localhost:8787"

// Error is a non-2xx answer from closetd.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("closetd: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("closetd: %s: %s", e.Code, e.Message)
}

type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	locale string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLocale sets X-Locale so rejections come back localized.
func WithLocale(locale string) Option {
	return func(c *Client) { c.locale = locale }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("apiclient: invalid server url %q", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 60 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.locale != "" {
		req.Header.Set("X-Locale", c.locale)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var payload dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	}
	return apiErr
}

func (c *Client) Status(ctx context.Context) (dto.StatusResponse, error) {
	var out dto.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/generation/status", nil, &out)
	return out, err
}

// GenerationStatus makes the client a monitor status source.
func (c *Client) GenerationStatus(ctx context.Context) (domain.GenerationStatus, error) {
	out, err := c.Status(ctx)
	return out.GenerationStatus, err
}

// Subscribe opens /v1/events. The channel closes when the connection drops
// or ctx ends; callers fall back to polling.
func (c *Client) Subscribe(ctx context.Context) (<-chan domain.PushMessage, error) {
	wsURL := *c.base
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/v1/events"

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: dial events: %w", err)
	}

	out := make(chan domain.PushMessage, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var msg domain.PushMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case out <- msg:
			default:
			}
		}
	}()
	return out, nil
}

func (c *Client) TryOn(ctx context.Context, req dto.TryOnRequest) (domain.GenerationJob, error) {
	var out dto.JobResponse
	err := c.do(ctx, http.MethodPost, "/v1/tryon", req, &out)
	return out.Job, err
}

func (c *Client) GenerateAvatars(ctx context.Context, photos [][]byte) (domain.GenerationJob, error) {
	req := dto.AvatarGenerateRequest{Photos: make([]string, 0, len(photos))}
	for _, p := range photos {
		req.Photos = append(req.Photos, dto.EncodeImage(p))
	}
	var out dto.JobResponse
	err := c.do(ctx, http.MethodPost, "/v1/avatars/generate", req, &out)
	return out.Job, err
}

func (c *Client) RetryAvatars(ctx context.Context, poseIDs []int) (domain.GenerationJob, error) {
	var out dto.JobResponse
	err := c.do(ctx, http.MethodPost, "/v1/avatars/retry", dto.AvatarRetryRequest{PoseIDs: poseIDs}, &out)
	return out.Job, err
}

// Snapshot reads the status and every gallery in one request.
func (c *Client) Snapshot(ctx context.Context) (store.Snapshot, error) {
	var out dto.SnapshotResponse
	err := c.do(ctx, http.MethodGet, "/v1/snapshot", nil, &out)
	return out, err
}

func (c *Client) Avatars(ctx context.Context) (dto.AvatarsResponse, error) {
	var out dto.AvatarsResponse
	err := c.do(ctx, http.MethodGet, "/v1/avatars", nil, &out)
	return out, err
}

func (c *Client) SelectAvatar(ctx context.Context, idx int) error {
	return c.do(ctx, http.MethodPut, "/v1/avatars/selected", dto.SelectAvatarRequest{Index: &idx}, nil)
}

func (c *Client) ClearAvatars(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/avatars", nil, nil)
}

func (c *Client) Outfits(ctx context.Context) ([]domain.OutfitRecord, error) {
	var out dto.OutfitsResponse
	err := c.do(ctx, http.MethodGet, "/v1/outfits", nil, &out)
	return out.Items, err
}

func (c *Client) RemoveOutfit(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/outfits/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ClearOutfits(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/outfits", nil, nil)
}

// ExportOutfits downloads the outfit zip archive.
func (c *Client) ExportOutfits(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1/outfits/export"), nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: export outfits: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read archive: %w", err)
	}
	return data, nil
}

func (c *Client) Wardrobe(ctx context.Context) ([]domain.ClothingItem, error) {
	var out dto.WardrobeResponse
	err := c.do(ctx, http.MethodGet, "/v1/wardrobe", nil, &out)
	return out.Items, err
}

func (c *Client) AddWardrobeURL(ctx context.Context, rawURL string) (dto.WardrobeAddResponse, error) {
	var out dto.WardrobeAddResponse
	err := c.do(ctx, http.MethodPost, "/v1/wardrobe", dto.WardrobeAddRequest{URL: rawURL}, &out)
	return out, err
}

func (c *Client) AddWardrobeImage(ctx context.Context, data []byte) (dto.WardrobeAddResponse, error) {
	var out dto.WardrobeAddResponse
	err := c.do(ctx, http.MethodPost, "/v1/wardrobe", dto.WardrobeAddRequest{Image: dto.EncodeImage(data)}, &out)
	return out, err
}

func (c *Client) RemoveWardrobe(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, "/v1/wardrobe?ref="+url.QueryEscape(ref), nil, nil)
}

func (c *Client) APIKeyStatus(ctx context.Context) (dto.APIKeyStatusResponse, error) {
	var out dto.APIKeyStatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/settings/api-key", nil, &out)
	return out, err
}

func (c *Client) SetAPIKey(ctx context.Context, key string) (dto.APIKeyStatusResponse, error) {
	var out dto.APIKeyStatusResponse
	err := c.do(ctx, http.MethodPut, "/v1/settings/api-key", dto.APIKeyRequest{Key: key}, &out)
	return out, err
}

func (c *Client) ClearAPIKey(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/settings/api-key", nil, nil)
}

// ImageURL is the absolute URL of a stored image ref.
func (c *Client) ImageURL(ref string) string {
	return c.endpoint("/v1/" + strings.TrimLeft(ref, "/"))
}
