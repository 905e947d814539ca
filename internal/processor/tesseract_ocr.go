/**
 * Tesseract OCR - local recognition engine
 *
 * Free, offline OCR using Tesseract. Produces LINE and WORD blocks only,
 * so documents recognized here yield raw text without fields or tables.
 */

package processor

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// BlobFetcher loads document bytes from blob storage
type BlobFetcher interface {
	Fetch(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, error)
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string
	MaxBytes  int64

	// MinConfidence drops words below this confidence (0-100)
	MinConfidence float64
}

// TesseractOCR handles recognition using Tesseract
type TesseractOCR struct {
	languages     []string
	maxBytes      int64
	minConfidence float64
	blobs         BlobFetcher
}

// NewTesseractOCR creates a new Tesseract recognizer. blobs may be nil when
// every source carries its bytes.
func NewTesseractOCR(cfg *TesseractConfig, blobs BlobFetcher) *TesseractOCR {
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"eng"}
	}

	return &TesseractOCR{
		languages:     languages,
		maxBytes:      cfg.MaxBytes,
		minConfidence: cfg.MinConfidence,
		blobs:         blobs,
	}
}

func (t *TesseractOCR) Name() string {
	return "tesseract"
}

// Analyze performs OCR on the source image and returns its line structure
func (t *TesseractOCR) Analyze(ctx context.Context, src *Source) (*BlockGraph, error) {
	data := src.Data

	if len(data) == 0 {
		if t.blobs == nil {
			return nil, fmt.Errorf("%w: no document bytes for %s and no blob store configured", ErrSourceUnavailable, src.Key)
		}

		var err error
		if data, err = t.blobs.Fetch(ctx, src.Bucket, src.Key, t.maxBytes); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words, err := t.recognizeWords(data)
	if err != nil {
		return nil, err
	}

	return BlocksFromWords(ConfidentWords(words, t.minConfidence)), nil
}

func (t *TesseractOCR) recognizeWords(data []byte) ([]OCRWord, error) {
	// Clients are not safe for concurrent use
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}

	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words := make([]OCRWord, 0, len(boxes))
	for _, box := range boxes {
		words = append(words, OCRWord{
			Text:       box.Word,
			Confidence: box.Confidence,
			BlockNum:   box.BlockNum,
			ParNum:     box.ParNum,
			LineNum:    box.LineNum,
			WordNum:    box.WordNum,
		})
	}

	return words, nil
}
