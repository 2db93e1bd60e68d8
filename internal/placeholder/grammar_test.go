package placeholder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "a1B2c3D4e5F6g7H8"

func TestDecode_RoundTripUploading(t *testing.T) {
	text := EncodeUploading(testID, "file:///tmp/s3paste/a1B2c3D4e5F6g7H8.png")

	p, ok := Decode(text)
	require.True(t, ok)
	assert.Equal(t, testID, p.ID)
	assert.Equal(t, StatusUploading, p.Status)
	assert.Equal(t, "file:///tmp/s3paste/a1B2c3D4e5F6g7H8.png", p.Ref)
	assert.Equal(t, DefaultUploadingLabel, p.Label)
	assert.Equal(t, text, p.Text)
	assert.False(t, p.HasRetryLink())
}

func TestDecode_RoundTripFailed(t *testing.T) {
	text := EncodeFailed(testID)
	assert.Contains(t, text, "ob-s3:id="+testID+" status=failed")

	p, ok := Decode(text)
	require.True(t, ok)
	assert.Equal(t, testID, p.ID)
	assert.Equal(t, StatusFailed, p.Status)
	assert.Empty(t, p.Ref)
	assert.True(t, p.HasRetryLink())
	assert.Equal(t, "["+DefaultRetryLabel+"](#)", text[p.RetryStart:p.RetryEnd])
	assert.Equal(t, len(text), p.End)
}

func TestDecode_FailedWithoutRetryLink(t *testing.T) {
	p, ok := Decode("![gone ob-s3:id=" + testID + " status=failed]()")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, p.Status)
	assert.False(t, p.HasRetryLink())
}

func TestDecode_Rejects(t *testing.T) {
	cases := []string{
		"![x ob-s3:id=short status=uploading](ref)",
		"![x ob-s3:id=" + testID + " status=done](ref)",
		"![x](" + testID + ")",
		"plain text id=" + testID + " status=uploading",
	}
	for _, c := range cases {
		_, ok := Decode(c)
		assert.False(t, ok, c)
	}
}

func TestDecodeAll_Offsets(t *testing.T) {
	a := EncodeUploading(testID, "one")
	b := EncodeFailed("ZZZZZZZZZZZZZZZZ")
	line := "before " + a + " middle " + b + " after"

	all := DecodeAll(line)
	require.Len(t, all, 2)
	assert.Equal(t, a, line[all[0].Start:all[0].End])
	assert.Equal(t, b, line[all[1].Start:all[1].End])
	assert.Equal(t, "ZZZZZZZZZZZZZZZZ", all[1].ID)
}

func TestEncoder_CustomLabels(t *testing.T) {
	enc := Encoder{UploadingLabel: "up [x]", FailedLabel: "bad", RetryLabel: "again"}
	text := enc.EncodeUploading(testID, "a(b)")

	p, ok := Decode(text)
	require.True(t, ok)
	assert.Equal(t, "up x", p.Label)
	assert.Equal(t, "a%28b%29", p.Ref)

	p, ok = Decode(enc.EncodeFailed(testID))
	require.True(t, ok)
	assert.Equal(t, "again", p.RetryLabel)
}

func TestDecode_RefWithParentheses(t *testing.T) {
	ref := "/home/me/notes (draft)/s3paste/" + testID + "/shot.png"

	uploading := EncodeUploading(testID, ref)
	assert.Contains(t, uploading, "notes %28draft%29/")
	p, ok := Decode(uploading)
	require.True(t, ok)
	assert.Equal(t, ref, p.Ref)

	p, ok = Decode(EncodeFailedWithRef(testID, ref))
	require.True(t, ok)
	assert.Equal(t, ref, p.Ref)
	assert.True(t, p.HasRetryLink())
}
