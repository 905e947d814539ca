package processor

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/adverant/nexus/docextract-worker/internal/clients"
)

// BlockAnalyzer runs form and table analysis on a document
type BlockAnalyzer interface {
	AnalyzeDocument(ctx context.Context, req *clients.AnalyzeRequest) ([]types.Block, error)
}

// TextractRecognizer maps Textract analysis output onto the block graph
type TextractRecognizer struct {
	analyzer BlockAnalyzer
}

// NewTextractRecognizer creates a Textract backed recognizer
func NewTextractRecognizer(analyzer BlockAnalyzer) *TextractRecognizer {
	return &TextractRecognizer{analyzer: analyzer}
}

func (r *TextractRecognizer) Name() string {
	return "textract"
}

// Analyze references the document on S3 when possible, otherwise sends its bytes
func (r *TextractRecognizer) Analyze(ctx context.Context, src *Source) (*BlockGraph, error) {
	req := &clients.AnalyzeRequest{Bucket: src.Bucket, Key: src.Key}
	if src.Bucket == "" || src.Key == "" {
		req = &clients.AnalyzeRequest{Bytes: src.Data}
	}

	blocks, err := r.analyzer.AnalyzeDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	if blocks == nil {
		return nil, fmt.Errorf("%w: response carries no blocks", ErrMalformedInput)
	}

	return FromTextractBlocks(blocks), nil
}

// FromTextractBlocks converts SDK blocks; ids that are absent become ""
func FromTextractBlocks(blocks []types.Block) *BlockGraph {
	graph := &BlockGraph{Blocks: make([]Block, 0, len(blocks))}

	for _, b := range blocks {
		block := Block{
			ID:   aws.ToString(b.Id),
			Type: BlockType(b.BlockType),
			Text: b.Text,
		}

		for _, e := range b.EntityTypes {
			block.EntityTypes = append(block.EntityTypes, EntityType(e))
		}

		if b.RowIndex != nil {
			row := int(*b.RowIndex)
			block.RowIndex = &row
		}

		if b.ColumnIndex != nil {
			column := int(*b.ColumnIndex)
			block.ColumnIndex = &column
		}

		for _, rel := range b.Relationships {
			block.Relationships = append(block.Relationships, Relationship{
				Type: RelationshipType(rel.Type),
				IDs:  rel.Ids,
			})
		}

		graph.Blocks = append(graph.Blocks, block)
	}

	return graph
}
