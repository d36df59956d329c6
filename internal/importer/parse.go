// Package importer turns delimited text into rows of an entity in three
// steps: Parse, Map (plus Dedupe) and Commit.
package importer

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyInput = errors.New("import text is empty")

// Options controls how raw text is split. Neither is auto-detected.
type Options struct {
	Delimiter string `json:"delimiter"`
	HasHeader bool   `json:"hasHeader"`
}

// Cell is one value of a parsed row, keyed by its column name.
type Cell struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type Column struct {
	Column string `json:"column"`
}

// Parsed is the hand-off from the parse step to the mapping step.
type Parsed struct {
	Columns []Column `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

// Parse splits text into lines and values. Every double quote is removed
// from values; there is no other quoting or escaping. Blank lines are
// skipped and short rows are padded with empty values.
func Parse(text string, opts Options) (*Parsed, error) {
	if opts.Delimiter == "" {
		opts.Delimiter = ","
	}

	var lines [][]string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, opts.Delimiter)
		for i, f := range fields {
			fields[i] = strings.TrimSpace(strings.ReplaceAll(f, `"`, ""))
		}
		lines = append(lines, fields)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}

	var names []string
	if opts.HasHeader {
		names = lines[0]
		lines = lines[1:]
		for i, n := range names {
			if n == "" {
				names[i] = fmt.Sprintf("Column %d", i+1)
			}
		}
	} else {
		width := 0
		for _, l := range lines {
			width = max(width, len(l))
		}
		for i := 0; i < width; i++ {
			names = append(names, fmt.Sprintf("Column %d", i+1))
		}
	}

	p := &Parsed{
		Columns: make([]Column, len(names)),
		Rows:    make([][]Cell, 0, len(lines)),
	}
	for i, n := range names {
		p.Columns[i] = Column{Column: n}
	}
	for _, l := range lines {
		row := make([]Cell, len(names))
		for i, n := range names {
			row[i].Column = n
			if i < len(l) {
				row[i].Value = l[i]
			}
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}
