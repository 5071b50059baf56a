// Package wardrobe imports external garment images into the clothing list.
package wardrobe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/vincent-petithory/dataurl"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/imaging"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/metrics"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

const (
	DefaultMaxBytes  = 15 << 20
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; ClosetImporter/1.0)"
)

var (
	ErrUnsupportedURL = errors.New("wardrobe: only http, https and data urls are supported")
	ErrNoImageFound   = errors.New("wardrobe: no image found at url")
	ErrTooLarge       = errors.New("wardrobe: image exceeds size limit")
)

// Blobs persists preprocessed images.
type Blobs interface {
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
}

type Options struct {
	Store      *store.Store
	Blobs      Blobs
	HTTPClient *http.Client
	MaxBytes   int64
	UserAgent  string
	Metrics    *metrics.Metrics
	Logger     infra.Logger
	Now        func() time.Time
}

// Importer fetches, preprocesses and dedupes wardrobe images.
type Importer struct {
	store     *store.Store
	blobs     Blobs
	client    *http.Client
	maxBytes  int64
	userAgent string
	metrics   *metrics.Metrics
	logger    infra.Logger
	now       func() time.Time
}

func NewImporter(opts Options) (*Importer, error) {
	if opts.Store == nil || opts.Blobs == nil {
		return nil, errors.New("wardrobe: store and blobs are required")
	}
	imp := &Importer{
		store:     opts.Store,
		blobs:     opts.Blobs,
		client:    opts.HTTPClient,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		metrics:   opts.Metrics,
		logger:    infra.Component(opts.Logger, "wardrobe"),
		now:       opts.Now,
	}
	if imp.client == nil {
		imp.client = &http.Client{Timeout: DefaultTimeout}
	}
	if imp.maxBytes <= 0 {
		imp.maxBytes = DefaultMaxBytes
	}
	if imp.userAgent == "" {
		imp.userAgent = DefaultUserAgent
	}
	if imp.now == nil {
		imp.now = time.Now
	}
	return imp, nil
}

// Result reports the stored item. Added is false when an identical image was
// already in the wardrobe; Item is then the existing entry.
type Result struct {
	Item  domain.ClothingItem `json:"item"`
	Added bool                `json:"added"`
}

// AddFromURL imports the image at rawURL. HTML pages are resolved to their
// preview image.
func (i *Importer) AddFromURL(ctx context.Context, rawURL string) (Result, error) {
	data, meta, err := i.fetch(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		i.metrics.WardrobeImport("fetch_failed")
		return Result{}, err
	}
	return i.AddImage(ctx, data, meta)
}

// AddImage preprocesses data and appends it unless already present.
func (i *Importer) AddImage(ctx context.Context, data []byte, meta *domain.SourceMetadata) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrNoImageFound
	}
	payload, err := imaging.Preprocess(data, imaging.HighFidelity)
	if err != nil {
		i.metrics.WardrobeImport("invalid_image")
		return Result{}, err
	}
	i.metrics.Preprocessed(imaging.HighFidelity.Name, len(payload.Data))

	ref, err := i.blobs.Put(ctx, payload.Data, payload.MIMEType)
	if err != nil {
		return Result{}, fmt.Errorf("wardrobe: store image: %w", err)
	}
	item := domain.ClothingItem{ImageRef: ref, AddedAt: i.now().UTC(), SourceMetadata: meta}
	added, err := i.store.AddClothingItem(ctx, item)
	if err != nil {
		return Result{}, fmt.Errorf("wardrobe: append item: %w", err)
	}
	if !added {
		i.metrics.WardrobeImport("duplicate")
		items, err := i.store.ClothingItems(ctx)
		if err != nil {
			return Result{}, err
		}
		for _, existing := range items {
			if existing.ImageRef == ref {
				return Result{Item: existing}, nil
			}
		}
		return Result{Item: item}, nil
	}
	i.metrics.WardrobeImport("added")
	i.logger.Info().Str("ref", ref).Msg("wardrobe item added")
	return Result{Item: item, Added: true}, nil
}

// Remove deletes the wardrobe entry with ref.
func (i *Importer) Remove(ctx context.Context, ref string) error {
	return i.store.RemoveClothingItem(ctx, ref)
}

func (i *Importer) fetch(ctx context.Context, rawURL string) ([]byte, *domain.SourceMetadata, error) {
	if strings.HasPrefix(strings.ToLower(rawURL), "data:") {
		data, mimeType, err := decodeDataURL(rawURL)
		if err != nil {
			return nil, nil, err
		}
		if int64(len(data)) > i.maxBytes {
			return nil, nil, ErrTooLarge
		}
		return data, &domain.SourceMetadata{MIMEType: mimeType}, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, nil, ErrUnsupportedURL
	}
	body, contentType, err := i.get(ctx, u.String())
	if err != nil {
		return nil, nil, err
	}
	if isImage(contentType, body) {
		return body, &domain.SourceMetadata{URL: u.String(), MIMEType: sniff(contentType, body)}, nil
	}
	if !strings.HasPrefix(contentType, "text/html") {
		return nil, nil, ErrNoImageFound
	}

	imageURL, title, err := previewImage(u, body)
	if err != nil {
		return nil, nil, err
	}
	img, imgType, err := i.get(ctx, imageURL)
	if err != nil {
		return nil, nil, err
	}
	if !isImage(imgType, img) {
		return nil, nil, ErrNoImageFound
	}
	return img, &domain.SourceMetadata{
		URL:      imageURL,
		PageURL:  u.String(),
		Title:    title,
		MIMEType: sniff(imgType, img),
	}, nil
}

// get reads at most maxBytes of the response body.
func (i *Importer) get(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("wardrobe: build request: %w", err)
	}
	req.Header.Set("User-Agent", i.userAgent)
	req.Header.Set("Accept", "image/*,text/html;q=0.8")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("wardrobe: fetch %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("wardrobe: fetch %s: HTTP status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("wardrobe: read %s: %w", target, err)
	}
	if int64(len(body)) > i.maxBytes {
		return nil, "", ErrTooLarge
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return body, strings.ToLower(mediaType), nil
}

var previewSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="og:image:secure_url"]`, "content"},
	{`meta[property="og:image"]`, "content"},
	{`meta[name="twitter:image"]`, "content"},
	{`link[rel="image_src"]`, "href"},
	{`img[src]`, "src"},
}

// previewImage finds the product image of an HTML page, resolved against
// the page URL.
func previewImage(page *url.URL, html []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("wardrobe: parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	for _, s := range previewSelectors {
		val, ok := doc.Find(s.selector).First().Attr(s.attr)
		val = strings.TrimSpace(val)
		if !ok || val == "" || strings.HasPrefix(val, "data:") {
			continue
		}
		ref, err := url.Parse(val)
		if err != nil {
			continue
		}
		return page.ResolveReference(ref).String(), title, nil
	}
	return "", "", ErrNoImageFound
}

func decodeDataURL(raw string) ([]byte, string, error) {
	// the scheme is case-insensitive but the decoder wants it lowercase
	du, err := dataurl.DecodeString("data:" + raw[len("data:"):])
	if err != nil {
		return nil, "", fmt.Errorf("wardrobe: decode data url: %w", err)
	}
	mimeType := strings.ToLower(du.MediaType.ContentType())
	if !isImage(mimeType, du.Data) {
		return nil, "", ErrNoImageFound
	}
	return du.Data, sniff(mimeType, du.Data), nil
}

func isImage(contentType string, body []byte) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(http.DetectContentType(body), "image/")
}

func sniff(contentType string, body []byte) string {
	if strings.HasPrefix(contentType, "image/") {
		return contentType
	}
	return http.DetectContentType(body)
}
