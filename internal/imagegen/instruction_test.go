package imagegen

import (
	"strings"
	"testing"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

func TestBuildTryOnInstruction(t *testing.T) {
	single := BuildTryOnInstruction(TryOnRequest{GarmentCount: 1, Instructions: "tuck the shirt in"})
	for _, expect := range []string{"The second image shows a clothing item", "Additional instructions: tuck the shirt in."} {
		if !strings.Contains(single, expect) {
			t.Fatalf("instruction missing %q: %s", expect, single)
		}
	}

	multi := BuildTryOnInstruction(TryOnRequest{GarmentCount: 3})
	if !strings.Contains(multi, "The next 3 images") {
		t.Fatalf("multi-item instruction missing garment count: %s", multi)
	}
	if strings.Contains(multi, "Additional instructions") {
		t.Fatalf("empty instructions should be omitted: %s", multi)
	}
}

func TestBuildAvatarBatchInstructionLabelsPoses(t *testing.T) {
	got := BuildAvatarBatchInstruction(domain.DefaultPoses, 2)
	for _, p := range domain.DefaultPoses {
		label := "POSE " + string(rune('0'+p.ID)) + ":"
		if !strings.Contains(got, label) {
			t.Fatalf("instruction missing %q: %s", label, got)
		}
	}
	if !strings.Contains(got, "The 2 images show the same person.") {
		t.Fatalf("instruction missing photo preamble: %s", got)
	}
}

func TestParsePoseLabel(t *testing.T) {
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{text: "POSE 3", want: 3, ok: true},
		{text: "Here is pose #2:", want: 2, ok: true},
		{text: "POSE 1 done. Next POSE 4", want: 4, ok: true},
		{text: "no label here", ok: false},
	}
	for _, tc := range tests {
		got, ok := ParsePoseLabel(tc.text)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParsePoseLabel(%q) = %d, %v; want %d, %v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}
