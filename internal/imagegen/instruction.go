// Package imagegen builds the text instructions sent alongside input images.
package imagegen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

// TryOnRequest describes a try-on instruction. The subject image is always
// the first image part, garments follow in order.
type TryOnRequest struct {
	GarmentCount int
	Instructions string
}

func BuildTryOnInstruction(req TryOnRequest) string {
	parts := []string{}
	switch {
	case req.GarmentCount <= 1:
		parts = append(parts, "The first image shows a person. The second image shows a clothing item.")
		parts = append(parts, "Generate a photorealistic image of the same person wearing that clothing item.")
	default:
		parts = append(parts, fmt.Sprintf("The first image shows a person. The next %d images each show one clothing item.", req.GarmentCount))
		parts = append(parts, "Generate a photorealistic image of the same person wearing all of these items together as one outfit.")
	}
	parts = append(parts, "Keep the person's face, body shape, skin tone and pose unchanged.")
	parts = append(parts, "Preserve each garment's color, pattern, texture and logos. Fit the clothing naturally with realistic folds and lighting.")
	parts = append(parts, "Use a clean neutral background. Return exactly one image.")
	if instructions := strings.TrimSpace(req.Instructions); instructions != "" {
		parts = append(parts, "Additional instructions: "+instructions+".")
	}
	return strings.Join(parts, " ")
}

// BuildAvatarBatchInstruction asks for one image per pose, each preceded by
// a "POSE <id>" text label so results can be matched back to poses.
func BuildAvatarBatchInstruction(poses []domain.Pose, photoCount int) string {
	parts := []string{avatarPreamble(photoCount)}
	parts = append(parts, fmt.Sprintf("Generate %d separate full-body images of this person, one for each pose below.", len(poses)))
	for _, p := range poses {
		parts = append(parts, fmt.Sprintf("POSE %d: %s.", p.ID, p.Prompt))
	}
	parts = append(parts, "Before each image, output a text line with its label exactly as written, for example \"POSE 1\".")
	parts = append(parts, avatarStyle)
	return strings.Join(parts, " ")
}

// BuildAvatarPoseInstruction asks for a single pose.
func BuildAvatarPoseInstruction(pose domain.Pose, photoCount int) string {
	return strings.Join([]string{
		avatarPreamble(photoCount),
		fmt.Sprintf("Generate one full-body image of this person %s.", pose.Prompt),
		avatarStyle,
	}, " ")
}

const avatarStyle = "Plain light-gray studio background, even lighting, neutral fitted clothing, whole body visible from head to feet."

func avatarPreamble(photoCount int) string {
	if photoCount <= 1 {
		return "The image shows a person."
	}
	return fmt.Sprintf("The %d images show the same person.", photoCount)
}

var poseLabel = regexp.MustCompile(`(?i)\bpose\s*#?\s*(\d+)\b`)

// ParsePoseLabel returns the last pose id labelled in text.
func ParsePoseLabel(text string) (int, bool) {
	matches := poseLabel.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	id, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, false
	}
	return id, true
}
