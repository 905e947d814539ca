/**
 * Structure Reconstructor
 *
 * Rebuilds form fields, tables and raw text from a block graph:
 * - Key/value pairs from KEY_VALUE_SET blocks and their VALUE edges
 * - Tables from sparse CELL coordinates, in sorted row/column order
 * - Raw text from LINE blocks in input order
 *
 * Pure function of its input. Local defects (dangling ids, keys without a
 * value, tables without cells) are skipped rather than reported.
 */

package processor

import (
	"fmt"
	"sort"
	"strings"
)

// StructureReconstructor converts block graphs into documents
type StructureReconstructor struct{}

// NewStructureReconstructor creates a new structure reconstructor
func NewStructureReconstructor() *StructureReconstructor {
	return &StructureReconstructor{}
}

// blockIndex resolves block ids to blocks for one reconstruction call
type blockIndex map[string]*Block

// Reconstruct builds a Document from the block graph
func (r *StructureReconstructor) Reconstruct(graph *BlockGraph) (*Document, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: nil block graph", ErrMalformedInput)
	}

	index := make(blockIndex, len(graph.Blocks))
	for i := range graph.Blocks {
		block := &graph.Blocks[i]
		if block.ID == "" {
			continue
		}
		index[block.ID] = block
	}

	return &Document{
		Fields:     r.extractFields(graph.Blocks, index),
		Tables:     r.extractTables(graph.Blocks, index),
		RawText:    r.extractRawText(graph.Blocks),
		BlockCount: len(graph.Blocks),
	}, nil
}

// extractFields pairs every KEY block with its VALUE block
func (r *StructureReconstructor) extractFields(blocks []Block, index blockIndex) map[string]string {
	fields := make(map[string]string)

	for i := range blocks {
		block := &blocks[i]
		if block.Type != BlockTypeKeyValueSet || !block.HasEntityType(EntityTypeKey) {
			continue
		}

		valueBlock := index.findValueBlock(block)
		if valueBlock == nil {
			continue
		}

		label := index.resolveText(block)
		value := index.resolveText(valueBlock)
		if label == "" || value == "" {
			continue
		}

		// Later keys with the same label overwrite earlier ones.
		fields[label] = value
	}

	return fields
}

// extractTables reconstructs every TABLE block that has at least one cell
func (r *StructureReconstructor) extractTables(blocks []Block, index blockIndex) []Table {
	tables := []Table{}

	for i := range blocks {
		block := &blocks[i]
		if block.Type != BlockTypeTable {
			continue
		}

		if table, ok := index.parseTable(block); ok {
			tables = append(tables, table)
		}
	}

	return tables
}

// extractRawText joins the direct text of all LINE blocks
func (r *StructureReconstructor) extractRawText(blocks []Block) string {
	var lines []string
	for i := range blocks {
		if blocks[i].Type == BlockTypeLine {
			lines = append(lines, blocks[i].OwnText())
		}
	}
	return strings.Join(lines, "\n")
}

// parseTable groups the table's CELL children by row and column index
func (idx blockIndex) parseTable(table *Block) (Table, bool) {
	rows := make(map[int]map[int]string)

	for _, cellID := range table.Related(RelationshipChild) {
		cell, ok := idx[cellID]
		if !ok || cell.Type != BlockTypeCell {
			continue
		}

		row, column := cell.Position()
		if rows[row] == nil {
			rows[row] = make(map[int]string)
		}
		rows[row][column] = idx.resolveText(cell)
	}

	if len(rows) == 0 {
		return Table{}, false
	}

	cells := make([][]string, 0, len(rows))
	for _, row := range sortedKeys(rows) {
		columns := rows[row]
		data := make([]string, 0, len(columns))
		for _, column := range sortedKeys(columns) {
			data = append(data, columns[column])
		}
		cells = append(cells, data)
	}

	return NewTable(cells), true
}

// findValueBlock returns the first VALUE edge target that exists
func (idx blockIndex) findValueBlock(key *Block) *Block {
	for _, id := range key.Related(RelationshipValue) {
		if value, ok := idx[id]; ok {
			return value
		}
	}
	return nil
}

// resolveText concatenates a block's own text with its WORD children.
// Responses carry either form depending on the engine variant.
func (idx blockIndex) resolveText(block *Block) string {
	var sb strings.Builder
	sb.WriteString(block.OwnText())

	for _, childID := range block.Related(RelationshipChild) {
		child, ok := idx[childID]
		if !ok || child.Type != BlockTypeWord {
			continue
		}
		sb.WriteString(child.OwnText())
		sb.WriteByte(' ')
	}

	return strings.TrimSpace(sb.String())
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
