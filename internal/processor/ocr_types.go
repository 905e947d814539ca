/**
 * OCR Types - word level output of the local OCR engine
 */

package processor

import (
	"fmt"
	"strings"
)

// OCRWord represents a single recognized word with its layout position
type OCRWord struct {
	Text       string
	Confidence float64

	// Layout numbering assigned by the engine
	BlockNum int
	ParNum   int
	LineNum  int
	WordNum  int
}

type lineKey struct {
	block, paragraph, line int
}

// ConfidentWords drops words the engine recognized with less than floor
// confidence (0-100). A floor of 0 keeps every word.
func ConfidentWords(words []OCRWord, floor float64) []OCRWord {
	if floor <= 0 {
		return words
	}

	kept := make([]OCRWord, 0, len(words))
	for _, w := range words {
		if w.Confidence >= floor {
			kept = append(kept, w)
		}
	}

	return kept
}

// BlocksFromWords groups words into LINE blocks that own WORD children.
// Lines keep the order in which their first word appears.
func BlocksFromWords(words []OCRWord) *BlockGraph {
	graph := &BlockGraph{Blocks: []Block{}}

	var order []lineKey
	lines := make(map[lineKey][]OCRWord)

	for _, w := range words {
		if w.Text == "" {
			continue
		}

		key := lineKey{w.BlockNum, w.ParNum, w.LineNum}
		if _, ok := lines[key]; !ok {
			order = append(order, key)
		}
		lines[key] = append(lines[key], w)
	}

	for n, key := range order {
		lineID := fmt.Sprintf("line-%d", n+1)
		line := Block{ID: lineID, Type: BlockTypeLine}

		var texts, childIDs []string

		for m, w := range lines[key] {
			wordID := fmt.Sprintf("%s-word-%d", lineID, m+1)
			text := w.Text

			graph.Blocks = append(graph.Blocks, Block{ID: wordID, Type: BlockTypeWord, Text: &text})

			texts = append(texts, w.Text)
			childIDs = append(childIDs, wordID)
		}

		lineText := strings.Join(texts, " ")
		line.Text = &lineText
		line.Relationships = []Relationship{{Type: RelationshipChild, IDs: childIDs}}

		graph.Blocks = append(graph.Blocks, line)
	}

	return graph
}
