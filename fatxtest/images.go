// Package fatxtest provides golden-image fixture helpers for tests in this
// module: loading RLE8+gzip compressed reference disk/memory-card images
// into an in-memory Device I/O stream.
package fatxtest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tucana-systems/fatx360/iostream"
	"github.com/tucana-systems/fatx360/utilities/compression"
)

// LoadImage decompresses a golden FATX/XDBF image fixture and wraps it as
// an in-memory Device I/O stream. Writes to the returned stream never touch
// compressedImageBytes; the stream's length is fixed at expectedSize unless
// grown explicitly with Truncate.
func LoadImage(t *testing.T, compressedImageBytes []byte, expectedSize int64) *iostream.MemoryStream {
	t.Helper()

	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImageBytes))
	require.NoError(t, err)
	require.EqualValues(t, expectedSize, len(imageBytes), "uncompressed image is wrong size")

	return iostream.NewMemoryStream(imageBytes)
}

// CompressImage is the inverse of LoadImage, used by fixture-generation
// tooling to produce the compressed bytes a test later embeds or reads from
// disk.
func CompressImage(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	if _, err := compression.CompressImage(bytes.NewReader(raw), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
