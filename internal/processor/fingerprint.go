/**
 * Document Fingerprints
 *
 * Hashes the reconstructed content of a document into a fixed size,
 * L2-normalized vector so that near-duplicate uploads land close together
 * under cosine similarity.
 */

package processor

import (
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultFingerprintDimensions is the vector size of the duplicate index
const DefaultFingerprintDimensions = 1024

// Fingerprinter turns documents into feature-hashed vectors
type Fingerprinter struct {
	dimensions int
}

// NewFingerprinter creates a fingerprinter; non-positive sizes use the default
func NewFingerprinter(dimensions int) *Fingerprinter {
	if dimensions <= 0 {
		dimensions = DefaultFingerprintDimensions
	}
	return &Fingerprinter{dimensions: dimensions}
}

// Dimensions returns the vector size
func (f *Fingerprinter) Dimensions() int {
	return f.dimensions
}

// Fingerprint hashes the raw text tokens and the field pairs of a document.
// ok is false when the document has no content to hash.
func (f *Fingerprinter) Fingerprint(doc *Document) (vector []float32, ok bool) {
	if doc == nil {
		return nil, false
	}

	vector = make([]float32, f.dimensions)
	features := 0

	for _, token := range tokenize(doc.RawText) {
		f.add(vector, token, 1)
		features++
	}

	// Field pairs weigh more than a single text token
	for label, value := range doc.Fields {
		f.add(vector, "field:"+normalizeToken(label)+"="+normalizeToken(value), 2)
		features++
	}

	if features == 0 {
		return nil, false
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return nil, false
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}

	return vector, true
}

// add hashes one feature into its bucket; the top bit of the hash picks the sign
func (f *Fingerprinter) add(vector []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(f.dimensions)

	if h>>63 == 1 {
		weight = -weight
	}

	vector[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalizeToken(s string) string {
	return strings.Join(tokenize(s), " ")
}
