package feed

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type xlsxReader struct {
	rows   [][]string
	header header
	pos    int
	total  int
}

// NewXLSXReader reads the first sheet of a workbook. The sheet is loaded
// eagerly, so Total is always known and r may be closed right away.
func NewXLSXReader(r io.Reader) (Reader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	// skip leading blank rows before the header
	start := 0
	for start < len(rows) && isBlank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, fmt.Errorf("sheet %q is empty: %w", sheets[0], ErrMissingColumn)
	}

	h, err := parseHeader(rows[start])
	if err != nil {
		return nil, err
	}

	total := 0
	for _, raw := range rows[start+1:] {
		if !isBlank(raw) {
			total++
		}
	}

	return &xlsxReader{rows: rows, header: h, pos: start + 1, total: total}, nil
}

func (x *xlsxReader) Next() (*Row, error) {
	for x.pos < len(x.rows) {
		raw := x.rows[x.pos]
		x.pos++
		if isBlank(raw) {
			continue
		}
		// spreadsheet rows are 1-based
		return x.header.mapRecord(x.pos, raw)
	}
	return nil, io.EOF
}

func (x *xlsxReader) Total() int {
	return x.total
}

func (x *xlsxReader) Close() error {
	x.rows = nil
	return nil
}

func isBlank(raw []string) bool {
	for _, cell := range raw {
		if cell != "" {
			return false
		}
	}
	return true
}
