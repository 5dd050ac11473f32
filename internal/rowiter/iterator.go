// Package rowiter implements C3: a lazy, once-only iterator over the rows
// of an uploaded tabular file, honouring the separator, encoding, and
// decimal mark detected at upload time.
package rowiter

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Row is a single decoded record: either a well-formed field map or a
// malformed-row marker the dispatcher will fail without calling the
// routing client.
type Row struct {
	Index     int64
	Fields    map[string]string
	Malformed bool
	Err       error
}

// Options controls how the underlying file is decoded.
type Options struct {
	Separator  rune
	Encoding   string // "utf-8" or "latin1"
	DecimalSep string // "." or ","
}

// Iterator yields rows from a single upload file exactly once; it is not
// restartable, matching each job opening its own iterator (spec §4.3).
type Iterator struct {
	f       *os.File
	r       *csv.Reader
	headers []string
	opts    Options
	index   int64
	total   int64
	done    bool
}

// Open opens path for streaming row-by-row iteration. rowCount is the
// upload's pre-computed row count, used only to report Total.
func Open(path string, rowCount int64, opts Options) (*Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}

	var src io.Reader = f
	if strings.EqualFold(opts.Encoding, "latin1") {
		src = transform.NewReader(bufio.NewReader(f), charmap.ISO8859_1.NewDecoder())
	} else {
		src = bufio.NewReader(f)
	}

	r := csv.NewReader(src)
	if opts.Separator != 0 {
		r.Comma = opts.Separator
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read header row: %w", err)
	}

	return &Iterator{
		f:       f,
		r:       r,
		headers: headers,
		opts:    opts,
		total:   rowCount,
	}, nil
}

// Total returns the upload's pre-computed row count.
func (it *Iterator) Total() int64 { return it.total }

// Headers returns the detected column names.
func (it *Iterator) Headers() []string { return it.headers }

// Next returns the next row, or ok=false once the sequence is exhausted.
// A malformed row (field-count mismatch, read error) is returned as a
// Row with Malformed=true rather than terminating the sequence, so a
// single bad line doesn't abort the whole upload.
func (it *Iterator) Next() (Row, bool) {
	if it.done {
		return Row{}, false
	}

	record, err := it.r.Read()
	if err == io.EOF {
		it.done = true
		return Row{}, false
	}

	idx := it.index
	it.index++

	if err != nil {
		return Row{Index: idx, Malformed: true, Err: fmt.Errorf("read row %d: %w", idx, err)}, true
	}

	if len(record) != len(it.headers) {
		return Row{
			Index:     idx,
			Malformed: true,
			Err:       fmt.Errorf("row %d has %d fields, expected %d", idx, len(record), len(it.headers)),
		}, true
	}

	fields := make(map[string]string, len(it.headers))
	for i, h := range it.headers {
		v := record[i]
		if it.opts.DecimalSep == "," {
			v = normalizeDecimalComma(v)
		}
		fields[h] = v
	}

	return Row{Index: idx, Fields: fields}, true
}

// normalizeDecimalComma swaps a decimal comma for a dot when the value
// looks like a single decimal number (one comma, digits either side),
// leaving anything else — free text fields, thousands-grouped values —
// untouched.
func normalizeDecimalComma(v string) string {
	if strings.Count(v, ",") != 1 {
		return v
	}
	i := strings.IndexByte(v, ',')
	before, after := v[:i], v[i+1:]
	if before == "" || after == "" {
		return v
	}
	if !isDigits(before) || !isDigits(after) {
		return v
	}
	return before + "." + after
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			if c == '-' || c == '+' {
				continue
			}
			return false
		}
	}
	return true
}

// Close releases the underlying file handle.
func (it *Iterator) Close() error {
	return it.f.Close()
}
