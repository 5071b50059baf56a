package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "images/a.jpg", want: "images/a.jpg"},
		{in: "/images//a.jpg", want: "images/a.jpg"},
		{in: `images\a.jpg`, want: "images/a.jpg"},
		{in: "../etc/passwd", wantErr: true},
		{in: "images/../../x", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range tests {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidKey, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestPutIsContentAddressed(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	k1, err := fs.Put(ctx, []byte("payload"), "image/jpeg")
	require.NoError(t, err)
	k2, err := fs.Put(ctx, []byte("payload"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Equal(t, ContentKey([]byte("payload"), "image/jpeg"), k1)
	assert.Regexp(t, `^images/[0-9a-f]{64}\.jpg$`, k1)

	data, err := fs.Read(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, fs.Delete(ctx, k1))
	_, err = fs.Read(ctx, k1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	ok, err := fs.Exists(ctx, k1)
	require.NoError(t, err)
	assert.False(t, ok)
}
