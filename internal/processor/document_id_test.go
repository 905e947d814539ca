package processor

import (
	"crypto/md5"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateDocumentID(t *testing.T) {
	arrived := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	sum := md5.Sum([]byte("incoming/invoice-0042.pdf_20240301123045"))
	expected := "invoice-0042_20240301123045_" + hex.EncodeToString(sum[:])[:8]

	assert.Equal(t, expected, GenerateDocumentID("incoming/invoice-0042.pdf", arrived))
}

func TestGenerateDocumentIDNames(t *testing.T) {
	arrived := time.Date(2024, 3, 1, 12, 30, 45, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		key    string
		prefix string
	}{
		{"incoming/scan.v2.png", "scan_20240301113045_"},
		{"receipt", "receipt_20240301113045_"},
		{"a/b/c/d.tiff", "d_20240301113045_"},
	}

	for _, tc := range tests {
		id := GenerateDocumentID(tc.key, arrived)
		assert.Regexp(t, "^"+tc.prefix+"[0-9a-f]{8}$", id, tc.key)
	}
}

func TestGenerateDocumentIDStable(t *testing.T) {
	arrived := time.Date(2024, 3, 1, 12, 30, 45, 999, time.UTC)

	assert.Equal(t,
		GenerateDocumentID("incoming/a.pdf", arrived),
		GenerateDocumentID("incoming/a.pdf", arrived.Truncate(time.Second)))

	assert.NotEqual(t,
		GenerateDocumentID("incoming/a.pdf", arrived),
		GenerateDocumentID("incoming/b.pdf", arrived))
}
