package wardrobe

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/infra"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/storage"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

func garmentPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newImporter(t *testing.T, maxBytes int64) (*Importer, *store.Store) {
	t.Helper()
	blobs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	st := store.New(store.NewMemoryBackend())
	imp, err := NewImporter(Options{Store: st, Blobs: blobs, MaxBytes: maxBytes, Logger: infra.DiscardLogger()})
	require.NoError(t, err)
	return imp, st
}

func productServer(t *testing.T, img []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/shirt.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head>
			<title>Fallback title</title>
			<meta property="og:title" content="Linen Shirt">
			<meta property="og:image" content="/shirt.png">
		</head><body><img src="/logo.png"></body></html>`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAddFromImageURL(t *testing.T) {
	srv := productServer(t, garmentPNG(t, color.RGBA{R: 120, A: 255}))
	imp, st := newImporter(t, 0)

	res, err := imp.AddFromURL(context.Background(), srv.URL+"/shirt.png")
	require.NoError(t, err)
	assert.True(t, res.Added)
	require.NotNil(t, res.Item.SourceMetadata)
	assert.Equal(t, "image/png", res.Item.SourceMetadata.MIMEType)
	assert.Equal(t, srv.URL+"/shirt.png", res.Item.SourceMetadata.URL)

	items, err := st.ClothingItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.Item.ImageRef, items[0].ImageRef)
}

func TestAddFromProductPageResolvesOGImage(t *testing.T) {
	srv := productServer(t, garmentPNG(t, color.RGBA{G: 120, A: 255}))
	imp, _ := newImporter(t, 0)

	res, err := imp.AddFromURL(context.Background(), srv.URL+"/product")
	require.NoError(t, err)
	meta := res.Item.SourceMetadata
	require.NotNil(t, meta)
	assert.Equal(t, srv.URL+"/shirt.png", meta.URL)
	assert.Equal(t, srv.URL+"/product", meta.PageURL)
	assert.Equal(t, "Linen Shirt", meta.Title)
}

func TestDedupSameImageTwice(t *testing.T) {
	img := garmentPNG(t, color.RGBA{B: 120, A: 255})
	srv := productServer(t, img)
	imp, st := newImporter(t, 0)
	ctx := context.Background()

	first, err := imp.AddFromURL(ctx, srv.URL+"/shirt.png")
	require.NoError(t, err)
	second, err := imp.AddFromURL(ctx, srv.URL+"/product")
	require.NoError(t, err)
	third, err := imp.AddImage(ctx, img, nil)
	require.NoError(t, err)

	assert.True(t, first.Added)
	assert.False(t, second.Added)
	assert.False(t, third.Added)
	assert.Equal(t, first.Item, second.Item)

	items, err := st.ClothingItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestAddFromDataURL(t *testing.T) {
	imp, _ := newImporter(t, 0)
	raw := garmentPNG(t, color.Black)
	res, err := imp.AddFromURL(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, "image/png", res.Item.SourceMetadata.MIMEType)
}

func TestDecodeDataURL(t *testing.T) {
	raw := garmentPNG(t, color.White)
	encoded := base64.StdEncoding.EncodeToString(raw)

	data, mimeType, err := decodeDataURL("DATA:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
	assert.Equal(t, "image/png", mimeType)

	// generic payloads are sniffed
	data, mimeType, err = decodeDataURL("data:application/octet-stream;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
	assert.Equal(t, "image/png", mimeType)

	_, _, err = decodeDataURL("data:image/png;base64")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoImageFound)

	_, _, err = decodeDataURL("data:text/plain;charset=utf-8,hello%20world")
	assert.ErrorIs(t, err, ErrNoImageFound)
}

func TestImportErrors(t *testing.T) {
	srv := productServer(t, garmentPNG(t, color.White))
	ctx := context.Background()

	imp, _ := newImporter(t, 0)
	_, err := imp.AddFromURL(ctx, "ftp://example.com/a.png")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	_, err = imp.AddFromURL(ctx, srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrNoImageFound)

	_, err = imp.AddFromURL(ctx, "data:text/plain,hello")
	assert.ErrorIs(t, err, ErrNoImageFound)

	small, _ := newImporter(t, 16)
	_, err = small.AddFromURL(ctx, srv.URL+"/shirt.png")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = imp.AddImage(ctx, []byte("\x89PNG\r\n\x1a\ngarbage"), nil)
	assert.Equal(t, domain.KindCompression, domain.KindOf(err))
}

func TestRemove(t *testing.T) {
	imp, st := newImporter(t, 0)
	ctx := context.Background()
	res, err := imp.AddImage(ctx, garmentPNG(t, color.White), nil)
	require.NoError(t, err)

	require.NoError(t, imp.Remove(ctx, res.Item.ImageRef))
	assert.ErrorIs(t, imp.Remove(ctx, res.Item.ImageRef), domain.ErrNotFound)
	items, err := st.ClothingItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}
