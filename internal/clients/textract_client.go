/**
 * Textract Client for the Document Extraction Worker
 *
 * Runs synchronous form and table analysis. Documents are referenced in
 * place on S3 when a bucket is known, otherwise sent as bytes.
 */

package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"
)

// ErrUnsupportedDocument is returned when Textract rejects the document itself
var ErrUnsupportedDocument = errors.New("unsupported document")

// Textract error codes that no retry will fix
var unsupportedDocumentCodes = map[string]bool{
	"UnsupportedDocumentException": true,
	"BadDocumentException":         true,
	"DocumentTooLargeException":    true,
}

// TextractAPI is the subset of the Textract SDK client used by the worker
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// TextractClient handles document analysis requests
type TextractClient struct {
	api TextractAPI
}

// AnalyzeRequest identifies the document to analyze
type AnalyzeRequest struct {
	Bucket string
	Key    string
	Bytes  []byte
}

// NewTextractClient creates a new Textract client from an AWS config
func NewTextractClient(cfg aws.Config) *TextractClient {
	return &TextractClient{api: textract.NewFromConfig(cfg)}
}

// NewTextractClientWithAPI wraps an existing Textract API implementation
func NewTextractClientWithAPI(api TextractAPI) *TextractClient {
	return &TextractClient{api: api}
}

// AnalyzeDocument requests FORMS and TABLES analysis and returns the blocks
func (c *TextractClient) AnalyzeDocument(ctx context.Context, req *AnalyzeRequest) ([]types.Block, error) {
	if req == nil {
		return nil, fmt.Errorf("analyze request is required")
	}

	document := &types.Document{}

	switch {
	case req.Bucket != "" && req.Key != "":
		document.S3Object = &types.S3Object{
			Bucket: aws.String(req.Bucket),
			Name:   aws.String(req.Key),
		}
	case len(req.Bytes) > 0:
		document.Bytes = req.Bytes
	default:
		return nil, fmt.Errorf("either an S3 location or document bytes are required")
	}

	resp, err := c.api.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document: document,
		FeatureTypes: []types.FeatureType{
			types.FeatureTypeForms,
			types.FeatureTypeTables,
		},
	})

	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && unsupportedDocumentCodes[apiErr.ErrorCode()] {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnsupportedDocument, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}

		return nil, fmt.Errorf("textract analyze document failed: %w", err)
	}

	return resp.Blocks, nil
}
