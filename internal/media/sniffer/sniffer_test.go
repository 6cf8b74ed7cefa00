package sniffer

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func mp4Head(brand string) []byte {
	head := []byte{0x00, 0x00, 0x00, 0x20}
	head = append(head, []byte("ftyp")...)
	head = append(head, []byte(brand)...)
	return head
}

func TestDetectHead(t *testing.T) {
	tests := []struct {
		name    string
		head    []byte
		want    MediaType
		mime    string
		isVideo bool
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, TypeJPEG, "image/jpeg", false},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00}, TypePNG, "image/png", false},
		{"gif87a", []byte("GIF87a......"), TypeGIF, "image/gif", false},
		{"gif89a", []byte("GIF89a......"), TypeGIF, "image/gif", false},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), TypeWEBP, "image/webp", false},
		{"mp4 isom", mp4Head("isom"), TypeMP4, "video/mp4", true},
		{"mp4 avc1", mp4Head("avc1"), TypeMP4, "video/mp4", true},
		{"mov", mp4Head("qt  "), TypeMOV, "video/quicktime", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectHead(tt.head)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Type)
			require.Equal(t, tt.mime, got.MIME)
			require.Equal(t, tt.isVideo, got.IsVideo())
		})
	}
}

func TestDetectHead_Unknown(t *testing.T) {
	_, err := DetectHead(nil)
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = DetectHead([]byte("plain text file"))
	require.ErrorIs(t, err, ErrUnknownType)

	// ftyp with an unknown brand is rejected
	_, err = DetectHead(mp4Head("zzzz"))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestMimeTypeFromHTTP(t *testing.T) {
	h := http.Header{}
	require.Equal(t, "", MimeTypeFromHTTP(h))

	h.Set("Content-Type", "image/jpeg")
	require.Equal(t, "image/jpeg", MimeTypeFromHTTP(h))

	h.Set("Content-Type", "video/mp4; codecs=avc1")
	require.Equal(t, "video/mp4", MimeTypeFromHTTP(h))
}
