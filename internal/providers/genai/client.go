// Package genai talks to the Gemini generateContent REST endpoint.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
)

const (
	defaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel           = "gemini-2.5-flash-image"
	defaultValidationModel = "gemini-2.5-flash"
	maxResponseBytes       = 64 << 20
)

// CredentialSource supplies the API key at call time so a key changed in the
// store is picked up without restarting.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

type staticKey string

func (k staticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", domain.ErrCredentialMissing
	}
	return strings.TrimSpace(string(k)), nil
}

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey          string
	Credentials     CredentialSource
	BaseURL         string
	Model           string
	ValidationModel string
	HTTPClient      *http.Client
	Logger          *infra.Logger
}

// Client builds multi-part generateContent requests and classifies failures
// into the domain error taxonomy.
type Client struct {
	creds           CredentialSource
	baseURL         string
	model           string
	validationModel string
	httpClient      *http.Client
	logger          *infra.Logger
}

// ImagePart is an input image sent inline with the prompt.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// GeneratedImage is an image part returned by the service.
type GeneratedImage struct {
	MIMEType string
	Data     []byte
}

// ResponsePart is one part of the first candidate, in order.
type ResponsePart struct {
	Text  string
	Image *GeneratedImage
}

// Response is the decoded generateContent result.
type Response struct {
	Parts        []ResponsePart
	FinishReason string
	BlockReason  string
}

// Images returns the image parts in response order.
func (r *Response) Images() []GeneratedImage {
	var out []GeneratedImage
	for _, p := range r.Parts {
		if p.Image != nil {
			out = append(out, *p.Image)
		}
	}
	return out
}

// Text concatenates the text parts.
func (r *Response) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// NewClient constructs a Gemini client. The HTTP client carries no timeout of
// its own; callers bound requests with their context.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	validationModel := opts.ValidationModel
	if validationModel == "" {
		validationModel = defaultValidationModel
	}

	creds := opts.Credentials
	if creds == nil {
		creds = staticKey(opts.APIKey)
	}

	logger := opts.Logger
	if logger == nil {
		l := infra.DiscardLogger()
		logger = &l
	}

	return &Client{
		creds:           creds,
		baseURL:         baseURL,
		model:           model,
		validationModel: validationModel,
		httpClient:      client,
		logger:          logger,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate sends prompt and parts and returns the first image-typed part of
// the response. A response without one fails with NoImageInResponse.
func (c *Client) Generate(ctx context.Context, prompt string, parts []ImagePart) (*GeneratedImage, error) {
	resp, err := c.GenerateContent(ctx, prompt, parts)
	if err != nil {
		return nil, err
	}
	images := resp.Images()
	if len(images) == 0 {
		return nil, noImageError(resp)
	}
	return &images[0], nil
}

// GenerateContent sends one request and returns every part of the first
// candidate. It never retries.
func (c *Client) GenerateContent(ctx context.Context, prompt string, parts []ImagePart) (*Response, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialMissing) {
			return nil, &domain.GenerationError{Kind: domain.KindAuth, Message: "api key is not configured", Err: err}
		}
		return nil, err
	}

	reqParts := make([]geminiPart, 0, len(parts)+1)
	reqParts = append(reqParts, geminiPart{Text: prompt})
	for _, p := range parts {
		mime := p.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		reqParts = append(reqParts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(p.Data),
		}})
	}
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: reqParts}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}

	var raw geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, key, c.model, payload, &raw); err != nil {
		return nil, err
	}

	resp := &Response{}
	if raw.PromptFeedback != nil {
		resp.BlockReason = raw.PromptFeedback.BlockReason
	}
	if len(raw.Candidates) > 0 {
		cand := raw.Candidates[0]
		resp.FinishReason = cand.FinishReason
		for _, part := range cand.Content.Parts {
			decoded, err := decodePart(part)
			if err != nil {
				c.logger.Warn().Err(err).Msg("genai: skipping undecodable part")
				continue
			}
			if decoded != nil {
				resp.Parts = append(resp.Parts, *decoded)
			}
		}
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("input_images", len(parts)).
		Int("output_images", len(resp.Images())).
		Str("finish_reason", resp.FinishReason).
		Msg("genai: generateContent completed")

	return resp, nil
}

// ValidateKey sends a minimal text-only request with key. A nil error means
// the key was accepted.
func (c *Client) ValidateKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &domain.GenerationError{Kind: domain.KindAuth, Message: "api key is empty"}
	}
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "ping"}}}},
		GenerationConfig: &geminiGenerationConfig{MaxOutputTokens: 1},
	}
	var raw geminiGenerateContentResponse
	return c.invokeGemini(ctx, key, c.validationModel, payload, &raw)
}

func (c *Client) invokeGemini(ctx context.Context, key, model string, payload any, out any) error {
	endpoint := c.baseURL + fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		gerr := classify(resp.StatusCode, data)
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("kind", string(gerr.Kind)).
			Str("model", model).
			Msg("genai: request rejected")
		return gerr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.GenerationError{
			Kind:       domain.KindUnknown,
			StatusCode: resp.StatusCode,
			Message:    "decode gemini response",
			Err:        err,
		}
	}
	return nil
}

func decodePart(part geminiPart) (*ResponsePart, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		if !strings.HasPrefix(strings.ToLower(part.InlineData.MimeType), "image/") {
			return nil, nil
		}
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline data: %w", err)
		}
		return &ResponsePart{Image: &GeneratedImage{MIMEType: part.InlineData.MimeType, Data: data}}, nil
	}
	if part.Text != "" {
		return &ResponsePart{Text: part.Text}, nil
	}
	return nil, nil
}
