package domain

import "time"

// AvatarState tracks the outcome of a single pose.
type AvatarState string

const (
	AvatarPending   AvatarState = "pending"
	AvatarSucceeded AvatarState = "succeeded"
	AvatarFailed    AvatarState = "failed"
)

// Pose is one requested avatar orientation.
type Pose struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// DefaultPoses is the fixed pose set requested by an avatar batch.
var DefaultPoses = []Pose{
	{ID: 1, Name: "front", Prompt: "standing upright facing the camera, arms relaxed at the sides"},
	{ID: 2, Name: "three-quarter", Prompt: "standing turned three-quarters to the left, looking at the camera"},
	{ID: 3, Name: "side", Prompt: "standing in full side profile facing left"},
	{ID: 4, Name: "walking", Prompt: "mid-stride walking toward the camera"},
}

// PoseByID looks up a pose in poses.
func PoseByID(poses []Pose, id int) (Pose, bool) {
	for _, p := range poses {
		if p.ID == id {
			return p, true
		}
	}
	return Pose{}, false
}

// AvatarRecord is one generated pose.
type AvatarRecord struct {
	PoseID    int         `json:"poseId"`
	ImageRef  string      `json:"imageRef,omitempty"`
	State     AvatarState `json:"state"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Usable reports whether the record can feed a try-on.
func (r AvatarRecord) Usable() bool {
	return r.State == AvatarSucceeded && r.ImageRef != ""
}

// AvatarSet is the ordered collection produced by avatar batches.
type AvatarSet []AvatarRecord

// IndexOfPose returns the slice index holding poseID or -1.
func (s AvatarSet) IndexOfPose(poseID int) int {
	for i, r := range s {
		if r.PoseID == poseID {
			return i
		}
	}
	return -1
}

// HasFailed reports whether any record is failed.
func (s AvatarSet) HasFailed() bool {
	for _, r := range s {
		if r.State == AvatarFailed {
			return true
		}
	}
	return false
}

// FailedPoses lists the pose ids of failed records in order.
func (s AvatarSet) FailedPoses() []int {
	var out []int
	for _, r := range s {
		if r.State == AvatarFailed {
			out = append(out, r.PoseID)
		}
	}
	return out
}

// UsableCount counts records that may be selected.
func (s AvatarSet) UsableCount() int {
	n := 0
	for _, r := range s {
		if r.Usable() {
			n++
		}
	}
	return n
}

// ClampSelection maps idx onto a selectable record. Out of range indices are
// clamped to the nearest bound; a failed record falls through to the first
// usable one. It returns -1 when nothing is selectable.
func (s AvatarSet) ClampSelection(idx int) int {
	if len(s) == 0 {
		return -1
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s) {
		idx = len(s) - 1
	}
	if s[idx].Usable() {
		return idx
	}
	for i, r := range s {
		if r.Usable() {
			return i
		}
	}
	return -1
}

// Merge replaces the record with the same pose id and returns the new set.
// Records for unknown poses are appended.
func (s AvatarSet) Merge(rec AvatarRecord) AvatarSet {
	out := make(AvatarSet, len(s))
	copy(out, s)
	if i := out.IndexOfPose(rec.PoseID); i >= 0 {
		out[i] = rec
		return out
	}
	return append(out, rec)
}
