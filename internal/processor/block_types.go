/**
 * Block Types - Recognition engine output
 *
 * The recognition engine returns a flat list of blocks that reference each
 * other by id. Optional attributes are pointers so an absent attribute is
 * distinguishable from a zero value.
 */

package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedInput is returned when the input is not a block collection at all.
var ErrMalformedInput = errors.New("malformed block graph")

// BlockType identifies the kind of visual primitive a block represents
type BlockType string

const (
	BlockTypeLine        BlockType = "LINE"
	BlockTypeWord        BlockType = "WORD"
	BlockTypeKeyValueSet BlockType = "KEY_VALUE_SET"
	BlockTypeTable       BlockType = "TABLE"
	BlockTypeCell        BlockType = "CELL"
)

// EntityType is the role of a KEY_VALUE_SET block
type EntityType string

const (
	EntityTypeKey   EntityType = "KEY"
	EntityTypeValue EntityType = "VALUE"
)

// RelationshipType is the kind of edge between blocks
type RelationshipType string

const (
	RelationshipChild RelationshipType = "CHILD"
	RelationshipValue RelationshipType = "VALUE"
)

// Relationship is an ordered list of block ids reached through one edge kind
type Relationship struct {
	Type RelationshipType `json:"Type"`
	IDs  []string         `json:"Ids"`
}

// Block is a single node of the block graph
type Block struct {
	ID            string         `json:"Id"`
	Type          BlockType      `json:"BlockType"`
	Text          *string        `json:"Text,omitempty"`
	EntityTypes   []EntityType   `json:"EntityTypes,omitempty"`
	RowIndex      *int           `json:"RowIndex,omitempty"`
	ColumnIndex   *int           `json:"ColumnIndex,omitempty"`
	Relationships []Relationship `json:"Relationships,omitempty"`
}

// BlockGraph is the complete recognition output for one document
type BlockGraph struct {
	Blocks []Block `json:"Blocks"`
}

// OwnText returns the block's direct text, or "" when it carries none
func (b *Block) OwnText() string {
	if b.Text == nil {
		return ""
	}
	return *b.Text
}

// HasEntityType reports whether the block carries the given role
func (b *Block) HasEntityType(entity EntityType) bool {
	for _, e := range b.EntityTypes {
		if e == entity {
			return true
		}
	}
	return false
}

// Related returns the ids of every relationship of the given kind, in order
func (b *Block) Related(kind RelationshipType) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == kind {
			ids = append(ids, rel.IDs...)
		}
	}
	return ids
}

// Position returns the 1-based row and column of a CELL block, 0 when absent
func (b *Block) Position() (row int, column int) {
	if b.RowIndex != nil {
		row = *b.RowIndex
	}
	if b.ColumnIndex != nil {
		column = *b.ColumnIndex
	}
	return row, column
}

// ParseBlockGraph decodes a recognition response payload.
//
// Accepts either the engine's response object ({"Blocks": [...]}) or a bare
// array of blocks. A response object without Blocks recognized nothing and
// yields an empty graph. Anything else is ErrMalformedInput.
func ParseBlockGraph(data []byte) (*BlockGraph, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	if trimmed[0] == '[' {
		return parseBlocks(trimmed)
	}

	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is neither a response object nor a block list", ErrMalformedInput)
	}

	var response struct {
		Blocks json.RawMessage `json:"Blocks"`
	}

	if err := json.Unmarshal(trimmed, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	if len(response.Blocks) == 0 {
		return &BlockGraph{Blocks: []Block{}}, nil
	}

	if bytes.Equal(response.Blocks, []byte("null")) {
		return nil, fmt.Errorf("%w: Blocks is null", ErrMalformedInput)
	}

	return parseBlocks(response.Blocks)
}

func parseBlocks(data []byte) (*BlockGraph, error) {
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	if blocks == nil {
		return nil, fmt.Errorf("%w: block list is null", ErrMalformedInput)
	}

	return &BlockGraph{Blocks: blocks}, nil
}
