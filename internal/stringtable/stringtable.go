// Package stringtable rebuilds the localized .str string files from the
// mod's central data table. The downstream game engine consumes the output
// byte for byte, so record layout and the legacy single-byte encoding are
// load-bearing.
package stringtable

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// KeyColumn holds the string key identifying each game object.
const KeyColumn = "Object Name"

// Table is the parsed data table: a header index plus raw rows.
type Table struct {
	columns map[string]int
	rows    [][]string
}

// Load reads the ;-separated, Latin-1 encoded data table.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data table: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(f))
	reader.Comma = ';'
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing data table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("data table %s is empty", path)
	}

	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[name] = i
	}

	return &Table{columns: columns, rows: records[1:]}, nil
}

// Records extracts (key, value) pairs for one language column, in table order.
func (t *Table) Records(column string) ([][2]string, error) {
	keyIdx, ok := t.columns[KeyColumn]
	if !ok {
		return nil, fmt.Errorf("data table has no %q column", KeyColumn)
	}
	valIdx, ok := t.columns[column]
	if !ok {
		return nil, fmt.Errorf("data table has no %q column", column)
	}

	records := make([][2]string, 0, len(t.rows))
	for _, row := range t.rows {
		if keyIdx >= len(row) || valIdx >= len(row) {
			return nil, fmt.Errorf("data table row has %d fields, need %q and %q", len(row), KeyColumn, column)
		}
		records = append(records, [2]string{row[keyIdx], row[valIdx]})
	}
	return records, nil
}

// Write emits one string file. Each record is three lines (key, quoted value,
// END terminator), records are separated by a blank line, and there is no
// trailing newline past the final terminator.
func Write(path string, records [][2]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating string file: %w", err)
	}
	defer f.Close()

	entries := make([]string, 0, len(records))
	for _, rec := range records {
		entries = append(entries, rec[0]+"\n\""+rec[1]+"\"\nEND")
	}

	w := charmap.ISO8859_1.NewEncoder().Writer(f)
	if _, err := w.Write([]byte(strings.Join(entries, "\n\n"))); err != nil {
		return fmt.Errorf("writing string file: %w", err)
	}
	return nil
}

// Rewrite loads the data table once and regenerates every target string file.
func Rewrite(dataTable string, targets map[string]string) error {
	table, err := Load(dataTable)
	if err != nil {
		return err
	}

	for path, column := range targets {
		records, err := table.Records(column)
		if err != nil {
			return err
		}
		if err := Write(path, records); err != nil {
			return err
		}
	}
	return nil
}
