package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func partialSet() AvatarSet {
	return AvatarSet{
		{PoseID: 1, ImageRef: "images/a.jpg", State: AvatarSucceeded},
		{PoseID: 2, State: AvatarFailed},
		{PoseID: 3, ImageRef: "images/c.jpg", State: AvatarSucceeded},
		{PoseID: 4, State: AvatarFailed},
	}
}

func TestClampSelection(t *testing.T) {
	set := partialSet()
	tests := []struct {
		name string
		set  AvatarSet
		idx  int
		want int
	}{
		{name: "valid index kept", set: set, idx: 2, want: 2},
		{name: "negative clamps to first", set: set, idx: -3, want: 0},
		{name: "beyond range clamps to last usable", set: set, idx: 10, want: 0},
		{name: "failed falls through to first usable", set: set, idx: 1, want: 0},
		{name: "empty set", set: nil, idx: 0, want: -1},
		{name: "nothing usable", set: AvatarSet{{PoseID: 1, State: AvatarFailed}}, idx: 0, want: -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.set.ClampSelection(tc.idx))
		})
	}
}

func TestAvatarSetMergeTouchesOnlyPose(t *testing.T) {
	set := partialSet()
	merged := set.Merge(AvatarRecord{PoseID: 2, ImageRef: "images/b.jpg", State: AvatarSucceeded})

	assert.Equal(t, AvatarFailed, set[1].State, "original set must not change")
	assert.Equal(t, AvatarSucceeded, merged[1].State)
	assert.Equal(t, set[0], merged[0])
	assert.Equal(t, set[2], merged[2])
	assert.Equal(t, set[3], merged[3])
	assert.Equal(t, []int{4}, merged.FailedPoses())
	assert.True(t, merged.HasFailed())
	assert.Equal(t, 3, merged.UsableCount())
}

func TestKindOf(t *testing.T) {
	gerr := NewGenerationError(KindQuotaExceeded, "slow down", nil)
	assert.Equal(t, KindQuotaExceeded, KindOf(fmt.Errorf("wrapped: %w", gerr)))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.True(t, KindAuth.RoutesToCredentials())
	assert.False(t, KindTimeout.RoutesToCredentials())
}

func TestTruncateUserMessage(t *testing.T) {
	assert.Equal(t, "short", TruncateUserMessage("short"))

	ascii := strings.Repeat("a", MaxUserMessageRunes+5)
	assert.Len(t, TruncateUserMessage(ascii), MaxUserMessageRunes)

	// one byte of padding puts every later rune boundary off the byte cap
	wide := "a" + strings.Repeat("é", MaxUserMessageRunes)
	got := TruncateUserMessage(wide)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxUserMessageRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasPrefix(wide, got))
}
