// Package dto holds the JSON bodies exchanged between closetd and its clients.
package dto

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
	"github.com/andrewhuhh/closet-try-on-sub000/internal/store"
)

type TryOnRequest struct {
	GarmentRefs []string `json:"garmentRefs,omitempty" validate:"omitempty,max=8,dive,required"`
	// Garments are base64 images, optionally as data URLs.
	Garments     []string `json:"garments,omitempty" validate:"omitempty,max=8,dive,required"`
	AvatarIndex  *int     `json:"avatarIndex,omitempty" validate:"omitempty,min=0"`
	Instructions string   `json:"instructions,omitempty" validate:"max=2000"`
}

type AvatarGenerateRequest struct {
	Photos []string `json:"photos" validate:"required,min=1,max=4,dive,required"`
}

type AvatarRetryRequest struct {
	PoseIDs []int `json:"poseIds,omitempty" validate:"omitempty,dive,min=1"`
}

type SelectAvatarRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

type WardrobeAddRequest struct {
	URL   string `json:"url,omitempty" validate:"required_without=Image"`
	Image string `json:"image,omitempty" validate:"required_without=URL"`
}

type APIKeyRequest struct {
	Key string `json:"key" validate:"required,min=8,max=512"`
}

type JobResponse struct {
	Job domain.GenerationJob `json:"job"`
}

type StatusResponse struct {
	domain.GenerationStatus
	ElapsedMs int64 `json:"elapsedMs"`
}

type AvatarsResponse = store.AvatarView

// SnapshotResponse is the status and every gallery read together.
type SnapshotResponse = store.Snapshot

type OutfitsResponse struct {
	Items []domain.OutfitRecord `json:"items"`
}

type WardrobeResponse struct {
	Items []domain.ClothingItem `json:"items"`
}

type OutfitExportItem struct {
	domain.OutfitRecord
	File    string `json:"file,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

type OutfitExportManifest struct {
	ExportedAt time.Time          `json:"exportedAt"`
	Items      []OutfitExportItem `json:"items"`
}

type WardrobeAddResponse struct {
	Item  domain.ClothingItem `json:"item"`
	Added bool                `json:"added"`
}

type APIKeyStatusResponse struct {
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

var errEmptyImage = errors.New("image is empty")

// DecodeImage accepts raw base64 or a base64 data URL.
func DecodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.New("malformed data url")
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyImage
	}
	return data, nil
}

// EncodeImage is the inverse of DecodeImage.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// MaskKey shows only the last four characters of a credential.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("•", len(key))
	}
	return strings.Repeat("•", 8) + key[len(key)-4:]
}
