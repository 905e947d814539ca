package processor

import (
	"encoding/json"
)

// Document is the structured result of reconstructing a block graph
type Document struct {
	Fields     map[string]string `json:"fields"`
	Tables     []Table           `json:"tables"`
	RawText    string            `json:"raw_text"`
	BlockCount int               `json:"block_count"`
}

// Table holds reconstructed rows. Row and column counts are derived from the
// cells and cannot be set independently.
type Table struct {
	cells [][]string
}

// NewTable creates a table from ordered rows of cell text
func NewTable(cells [][]string) Table {
	return Table{cells: cells}
}

// Cells returns the table rows in ascending row order
func (t Table) Cells() [][]string {
	return t.cells
}

// RowCount returns the number of rows
func (t Table) RowCount() int {
	return len(t.cells)
}

// ColumnCount returns the length of the first row, or 0 for an empty table
func (t Table) ColumnCount() int {
	if len(t.cells) == 0 {
		return 0
	}
	return len(t.cells[0])
}

type tableJSON struct {
	Rows    int        `json:"rows"`
	Columns int        `json:"columns"`
	Data    [][]string `json:"data"`
}

func (t Table) MarshalJSON() ([]byte, error) {
	data := t.cells
	if data == nil {
		data = [][]string{}
	}

	return json.Marshal(tableJSON{
		Rows:    t.RowCount(),
		Columns: t.ColumnCount(),
		Data:    data,
	})
}

// UnmarshalJSON reads the cell data only; counts are recomputed from it.
func (t *Table) UnmarshalJSON(data []byte) error {
	var v tableJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	t.cells = v.Data
	return nil
}
