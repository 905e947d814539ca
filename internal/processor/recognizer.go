/**
 * Recognition engines
 *
 * A Recognizer turns a stored document into a block graph. Engines can be
 * chained so a local engine takes over when the primary one is unavailable.
 */

package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/adverant/nexus/docextract-worker/internal/logging"
)

// ErrSourceUnavailable is returned when a recognizer cannot load the document bytes
var ErrSourceUnavailable = errors.New("document source unavailable")

// Source identifies the document handed to a recognizer
type Source struct {
	DocumentID string
	Bucket     string
	Key        string
	Size       int64

	// Data holds the document bytes when they are already in memory
	Data []byte
}

// Recognizer produces the block graph of a document
type Recognizer interface {
	Name() string
	Analyze(ctx context.Context, src *Source) (*BlockGraph, error)
}

// CascadeRecognizer tries the primary engine first and the fallback on error
type CascadeRecognizer struct {
	primary  Recognizer
	fallback Recognizer
	logger   *logging.Logger
}

// NewCascadeRecognizer chains two recognizers
func NewCascadeRecognizer(primary, fallback Recognizer) *CascadeRecognizer {
	return &CascadeRecognizer{
		primary:  primary,
		fallback: fallback,
		logger:   logging.NewLogger("recognition"),
	}
}

// Name returns "primary>fallback"
func (c *CascadeRecognizer) Name() string {
	return c.primary.Name() + ">" + c.fallback.Name()
}

// Analyze runs the primary engine, then the fallback if the primary fails.
// Cancellation is never retried.
func (c *CascadeRecognizer) Analyze(ctx context.Context, src *Source) (*BlockGraph, error) {
	graph, err := c.primary.Analyze(ctx, src)
	if err == nil {
		return graph, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	c.logger.WarnContext(ctx, "Primary recognizer failed, using fallback",
		"document_id", src.DocumentID,
		"primary", c.primary.Name(),
		"fallback", c.fallback.Name(),
		"error", err)

	graph, fallbackErr := c.fallback.Analyze(ctx, src)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%s failed: %w; %s failed: %w", c.primary.Name(), err, c.fallback.Name(), fallbackErr)
	}

	return graph, nil
}
