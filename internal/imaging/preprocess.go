// Package imaging turns arbitrary user images into bounded JPEG payloads
// suitable for upload to the generation service.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

// MIMEType is the encoding every payload is produced in.
const MIMEType = "image/jpeg"

// Profile calibrates the size/fidelity trade-off of Preprocess.
type Profile struct {
	Name           string
	MaxDimension   int
	TargetMaxBytes int
	Quality        int
	MinQuality     int
	QualityStep    int
}

var (
	// HighFidelity is used for avatar source photos and archived wardrobe images.
	HighFidelity = Profile{
		Name:           "high-fidelity",
		MaxDimension:   1536,
		TargetMaxBytes: 1 << 20,
		Quality:        90,
		MinQuality:     50,
		QualityStep:    10,
	}
	// FastTransport is used for per-request uploads.
	FastTransport = Profile{
		Name:           "fast-transport",
		MaxDimension:   1024,
		TargetMaxBytes: 512 << 10,
		Quality:        80,
		MinQuality:     40,
		QualityStep:    10,
	}
)

func (p Profile) normalized() Profile {
	if p.MaxDimension <= 0 {
		p.MaxDimension = FastTransport.MaxDimension
	}
	if p.Quality <= 0 || p.Quality > 100 {
		p.Quality = FastTransport.Quality
	}
	if p.MinQuality <= 0 {
		p.MinQuality = 1
	}
	if p.MinQuality > p.Quality {
		p.MinQuality = p.Quality
	}
	if p.QualityStep <= 0 {
		p.QualityStep = 10
	}
	return p
}

// Attempt records one encode pass.
type Attempt struct {
	Quality int `json:"quality"`
	Bytes   int `json:"bytes"`
}

// Payload is a transport-ready encoded image.
type Payload struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Quality  int
	Attempts []Attempt
}

// Hash returns the hex sha256 of the encoded bytes.
func (p *Payload) Hash() string {
	sum := sha256.Sum256(p.Data)
	return hex.EncodeToString(sum[:])
}

// Base64 returns the payload in the inline-data encoding.
func (p *Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// WithinBudget reports whether the payload met the profile byte budget.
func (p *Payload) WithinBudget(profile Profile) bool {
	return profile.TargetMaxBytes <= 0 || len(p.Data) <= profile.TargetMaxBytes
}

// ScaledSize fits (w, h) into a max x max box preserving the aspect ratio.
// Sizes already within bounds are returned unchanged.
func ScaledSize(w, h, max int) (int, int) {
	if w <= 0 || h <= 0 || max <= 0 {
		return w, h
	}
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

// Preprocess decodes raw, bounds its dimensions, flattens it onto an opaque
// background and re-encodes it, lowering quality until TargetMaxBytes is met
// or MinQuality is reached. The smallest encoding produced is returned even
// when the budget is never met.
func Preprocess(raw []byte, profile Profile) (*Payload, error) {
	profile = profile.normalized()
	if len(raw) == 0 {
		return nil, compressionError("empty image", errors.New("no image data"))
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, compressionError("decode image", err)
	}
	bounds := src.Bounds()
	w, h := ScaledSize(bounds.Dx(), bounds.Dy(), profile.MaxDimension)
	if w <= 0 || h <= 0 {
		return nil, compressionError("image has no pixels", errors.New("zero-sized image"))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	if w == bounds.Dx() && h == bounds.Dy() {
		xdraw.Draw(canvas, canvas.Bounds(), src, bounds.Min, xdraw.Over)
	} else {
		xdraw.CatmullRom.Scale(canvas, canvas.Bounds(), src, bounds, xdraw.Over, nil)
	}

	payload := &Payload{MIMEType: MIMEType, Width: w, Height: h}
	quality := profile.Quality
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
			if payload.Data == nil {
				return nil, compressionError("encode image", err)
			}
			break
		}
		payload.Attempts = append(payload.Attempts, Attempt{Quality: quality, Bytes: buf.Len()})
		if payload.Data == nil || buf.Len() <= len(payload.Data) {
			payload.Data = buf.Bytes()
			payload.Quality = quality
		}
		if profile.TargetMaxBytes <= 0 || len(payload.Data) <= profile.TargetMaxBytes || quality <= profile.MinQuality {
			break
		}
		quality -= profile.QualityStep
		if quality < profile.MinQuality {
			quality = profile.MinQuality
		}
	}
	return payload, nil
}

func compressionError(msg string, err error) *domain.GenerationError {
	return &domain.GenerationError{
		Kind:        domain.KindCompression,
		Message:     fmt.Sprintf("imaging: %s", msg),
		UserMessage: "The image could not be processed. Try a different JPEG, PNG or WebP file.",
		Err:         err,
	}
}
