// Package feed reads external price lists row by row.
//
// A feed is a tabular document with a header row. Columns are matched by name
// (see columnAliases) so their order does not matter and unknown columns are
// ignored. Readers return io.EOF at the end of the feed, a *RowError for a row
// that could not be mapped (the caller may skip it and continue), and any other
// error when the feed itself cannot be read.
package feed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrMissingColumn is returned when the header lacks a required column
var ErrMissingColumn = errors.New("required column missing")

// Format of a feed document
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Options controls how a feed document is decoded
type Options struct {
	Format    Format
	Delimiter rune
	// Encoding is a WHATWG encoding label such as "utf-8" or "windows-1251"
	Encoding string
}

// DefaultOptions matches the price lists exported by the supplier's accounting system
func DefaultOptions() Options {
	return Options{Delimiter: ';', Encoding: "utf-8"}
}

// Row is one mapped feed record
type Row struct {
	Line          int
	SKU           string
	Name          string
	PurchaseCost  decimal.NullDecimal
	RetailCost    decimal.NullDecimal
	WholesaleCost decimal.NullDecimal
	Rest          *int
	Available     *string
	ImageName     *string
}

// RowError describes a record that was read but could not be mapped.
// SKU is set when the record carried a usable SKU despite the error.
type RowError struct {
	Line int
	SKU  string
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Reader streams feed rows
type Reader interface {
	// Next returns the next row, io.EOF at the end of the feed or a *RowError for a bad row
	Next() (*Row, error)
	// Total returns the number of data rows when known upfront, 0 otherwise
	Total() int
	Close() error
}

// Open opens a feed file, choosing the format from opts or the file extension
func Open(path string, opts Options) (Reader, error) {
	format := opts.Format
	if format == "" {
		format = DetectFormat(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed: %w", err)
	}

	var r Reader
	switch format {
	case FormatXLSX:
		r, err = NewXLSXReader(f)
		f.Close()
	default:
		r, err = NewCSVReader(f, opts)
		if err != nil {
			f.Close()
		}
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DetectFormat guesses the feed format from a file name
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

const (
	colSKU           = "sku"
	colName          = "name"
	colPurchaseCost  = "purchase_cost"
	colRetailCost    = "retail_cost"
	colWholesaleCost = "wholesale_cost"
	colRest          = "rest"
	colAvailable     = "available"
	colImage         = "image"
)

var columnAliases = map[string]string{
	"sku":             colSKU,
	"артикул":         colSKU,
	"код":             colSKU,
	"name":            colName,
	"наименование":    colName,
	"purchase_cost":   colPurchaseCost,
	"закупочная цена": colPurchaseCost,
	"retail_cost":     colRetailCost,
	"price":           colRetailCost,
	"розничная цена":  colRetailCost,
	"цена":            colRetailCost,
	"wholesale_cost":  colWholesaleCost,
	"оптовая цена":    colWholesaleCost,
	"rest":            colRest,
	"stock":           colRest,
	"остаток":         colRest,
	"available":       colAvailable,
	"status":          colAvailable,
	"наличие":         colAvailable,
	"image":           colImage,
	"изображение":     colImage,
	"картинка":        colImage,
}

// header maps canonical column names to record positions
type header map[string]int

func parseHeader(record []string) (header, error) {
	h := make(header, len(record))
	for i, cell := range record {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := h[canonical]; !dup {
				h[canonical] = i
			}
		}
	}
	if _, ok := h[colSKU]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, colSKU)
	}
	if _, ok := h[colName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, colName)
	}
	return h, nil
}

func (h header) cell(record []string, column string) string {
	i, ok := h[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// record is the textual form of a row, validated before conversion
type record struct {
	SKU           string `validate:"required,max=128"`
	Name          string `validate:"required,max=1024"`
	PurchaseCost  string `validate:"omitempty,numeric"`
	RetailCost    string `validate:"omitempty,numeric"`
	WholesaleCost string `validate:"omitempty,numeric"`
	Rest          string `validate:"omitempty,numeric"`
	Available     string `validate:"max=256"`
	Image         string `validate:"max=512"`
}

var validate = validator.New()

// mapRecord converts a raw record into a Row
func (h header) mapRecord(line int, raw []string) (*Row, error) {
	rec := record{
		SKU:           h.cell(raw, colSKU),
		Name:          h.cell(raw, colName),
		PurchaseCost:  normalizeNumber(h.cell(raw, colPurchaseCost)),
		RetailCost:    normalizeNumber(h.cell(raw, colRetailCost)),
		WholesaleCost: normalizeNumber(h.cell(raw, colWholesaleCost)),
		Rest:          normalizeNumber(h.cell(raw, colRest)),
		Available:     h.cell(raw, colAvailable),
		Image:         h.cell(raw, colImage),
	}

	if err := validate.Struct(rec); err != nil {
		return nil, &RowError{Line: line, SKU: skuOf(rec, err), Err: err}
	}

	row := &Row{Line: line, SKU: rec.SKU, Name: rec.Name}

	var err error
	if row.PurchaseCost, err = parseCost(rec.PurchaseCost); err != nil {
		return nil, &RowError{Line: line, SKU: rec.SKU, Err: fmt.Errorf("purchase cost: %w", err)}
	}
	if row.RetailCost, err = parseCost(rec.RetailCost); err != nil {
		return nil, &RowError{Line: line, SKU: rec.SKU, Err: fmt.Errorf("retail cost: %w", err)}
	}
	if row.WholesaleCost, err = parseCost(rec.WholesaleCost); err != nil {
		return nil, &RowError{Line: line, SKU: rec.SKU, Err: fmt.Errorf("wholesale cost: %w", err)}
	}

	if rec.Rest != "" {
		rest, err := parseRest(rec.Rest)
		if err != nil {
			return nil, &RowError{Line: line, SKU: rec.SKU, Err: fmt.Errorf("rest: %w", err)}
		}
		row.Rest = &rest
	}
	if rec.Available != "" {
		row.Available = &rec.Available
	}
	if rec.Image != "" {
		row.ImageName = &rec.Image
	}

	return row, nil
}

// skuOf returns the SKU of a rejected record unless the SKU itself was rejected
func skuOf(rec record, err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if fe.StructField() == "SKU" {
				return ""
			}
		}
	}
	return rec.SKU
}

// normalizeNumber accepts "1 234,50" style numbers
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, ",", ".")
}

func parseCost(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("negative value %s", s)
	}
	return decimal.NewNullDecimal(d), nil
}

// parseRest accepts integral stock counts, including "5.0" as exported by spreadsheets
func parseRest(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative value %s", s)
		}
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("fractional value %s", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative value %s", s)
	}
	return int(d.IntPart()), nil
}
