// Package zip bundles stored images into a single downloadable archive.
package zip

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const ManifestName = "manifest.json"

type Entry struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// Archive writes entries in order followed by manifest, encoded as JSON.
// A nil manifest is omitted.
func Archive(entries []Entry, manifest any) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Filename]; dup {
			continue
		}
		seen[e.Filename] = struct{}{}

		hdr := &zip.FileHeader{Name: e.Filename, Method: zip.Store}
		if !e.Modified.IsZero() {
			hdr.Modified = e.Modified
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", e.Filename, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", e.Filename, err)
		}
	}
	if manifest != nil {
		raw, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("zip: encode manifest: %w", err)
		}
		w, err := zw.Create(ManifestName)
		if err != nil {
			return nil, fmt.Errorf("zip: create manifest: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("zip: write manifest: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
