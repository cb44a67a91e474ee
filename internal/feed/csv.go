package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

type csvReader struct {
	reader *csv.Reader
	closer io.Closer
	header header
	total  int
}

// NewCSVReader reads a delimited feed from r. If r is an io.Seeker its records
// are counted in a first pass so Total is known upfront. If r is an io.Closer it
// is closed by Close.
func NewCSVReader(r io.Reader, opts Options) (Reader, error) {
	total := 0
	if rs, ok := r.(io.ReadSeeker); ok {
		n, err := countRecords(rs, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		if n > 0 {
			total = n - 1
		}
	}

	cr, err := newCSV(r, opts)
	if err != nil {
		return nil, err
	}

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("feed is empty: %w", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed header: %w", err)
	}

	h, err := parseHeader(first)
	if err != nil {
		return nil, err
	}

	c := &csvReader{reader: cr, header: h, total: total}
	if closer, ok := r.(io.Closer); ok {
		c.closer = closer
	}
	return c, nil
}

func (c *csvReader) Next() (*Row, error) {
	raw, err := c.reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &RowError{Line: parseErr.StartLine, Err: parseErr.Err}
		}
		return nil, err
	}

	line, _ := c.reader.FieldPos(0)
	return c.header.mapRecord(line, raw)
}

func (c *csvReader) Total() int {
	return c.total
}

func (c *csvReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func newCSV(r io.Reader, opts Options) (*csv.Reader, error) {
	dec, err := newDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(transform.NewReader(r, dec))
	cr.Comma = opts.Delimiter
	if cr.Comma == 0 {
		cr.Comma = ';'
	}
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr, nil
}

// newDecoder returns the transformer for the named encoding. UTF-8 input is
// only validated, so malformed bytes fail the feed instead of turning into U+FFFD.
func newDecoder(label string) (transform.Transformer, error) {
	if label == "" {
		return encoding.UTF8Validator, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported feed encoding %q: %w", label, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return encoding.UTF8Validator, nil
	}
	return enc.NewDecoder(), nil
}

// countRecords counts the records the parser yields from rs, header included,
// and rewinds it. Records that fail to parse are counted as well since Next
// reports them as row errors.
func countRecords(rs io.ReadSeeker, opts Options) (int, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	cr, err := newCSV(rs, opts)
	if err != nil {
		return 0, err
	}
	cr.ReuseRecord = true

	n := 0
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return 0, err
		}
		n++
	}

	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	return n, nil
}
