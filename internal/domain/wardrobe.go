package domain

import "time"

// OutfitRecord is a materialized try-on result.
type OutfitRecord struct {
	ID                string    `json:"id"`
	JobID             string    `json:"jobId,omitempty"`
	GeneratedImageRef string    `json:"generatedImageRef"`
	SourceGarmentRefs []string  `json:"sourceGarmentRefs"`
	UsedAvatarRef     string    `json:"usedAvatarRef"`
	CreatedAt         time.Time `json:"createdAt"`
	IsMultiItem       bool      `json:"isMultiItem"`
}

// SourceMetadata describes where a wardrobe image came from.
type SourceMetadata struct {
	URL      string `json:"url,omitempty"`
	PageURL  string `json:"pageUrl,omitempty"`
	Title    string `json:"title,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// ClothingItem is a wardrobe entry keyed by its content-addressed ImageRef.
type ClothingItem struct {
	ImageRef       string          `json:"imageRef"`
	AddedAt        time.Time       `json:"addedAt"`
	SourceMetadata *SourceMetadata `json:"sourceMetadata,omitempty"`
}
