package dda

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// ErrNoValidData is returned when a DDA output file contains no parseable rows.
var ErrNoValidData = errors.New("no valid data found in DDA output")

// ErrNoDataAfterExtraction is returned when stride-extraction leaves nothing.
var ErrNoDataAfterExtraction = errors.New("no data after column extraction")

// ErrTransposeEmpty is returned when the transposed matrix is empty.
var ErrTransposeEmpty = errors.New("transpose resulted in empty data")

const defaultColumnStride = 4

// ParseOutput reads a DDA output stream and extracts the strided Q-matrix
// plus the per-row error/rho values carried in column 1.
//
// Rows are tokenized on whitespace; blank lines and lines beginning with '#'
// are skipped. A row is accepted only if its token count matches the first
// accepted row's token count — rows that disagree are logged and skipped.
// Column 1 (0-indexed) is captured as the error value before the first two
// columns (window index, error/rho) are dropped; from what remains, every
// columnStride-th column starting at offset 0 is kept, and the resulting
// rows×columns matrix is transposed to columns×rows. If the first accepted
// row has two or fewer columns, the row-skip step is bypassed and the whole
// row is treated as a single channel.
func ParseOutput(r io.Reader, columnStride int) (*ParsedOutput, error) {
	if columnStride <= 0 {
		columnStride = defaultColumnStride
	}

	var matrix [][]float64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var wantCols int
	haveWant := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, 0, len(fields))
		ok := true
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			row = append(row, v)
		}
		if !ok || len(row) == 0 {
			continue
		}
		if !haveWant {
			wantCols = len(row)
			haveWant = true
		} else if len(row) != wantCols {
			slog.Warn("dda: skipping row with mismatched column count", "expected", wantCols, "got", len(row))
			continue
		}
		matrix = append(matrix, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(matrix) == 0 {
		return nil, ErrNoValidData
	}

	return extract(matrix, columnStride)
}

// ParseOutputBytes is the byte-slice variant of ParseOutput, for callers
// that already hold the file contents in memory (e.g. after os.ReadFile).
// It wraps the slice in a bytes.Reader without copying it and applies the
// same row accept/skip rules as ParseOutput.
func ParseOutputBytes(b []byte, columnStride int) (*ParsedOutput, error) {
	if columnStride <= 0 {
		columnStride = defaultColumnStride
	}
	return ParseOutput(bytes.NewReader(b), columnStride)
}

func extract(matrix [][]float64, columnStride int) (*ParsedOutput, error) {
	errorValues := make([]float64, 0, len(matrix))
	for _, row := range matrix {
		errorValues = append(errorValues, row[1])
	}

	if len(matrix[0]) <= 2 {
		flat := make([]float64, 0, len(matrix)*len(matrix[0]))
		for _, row := range matrix {
			flat = append(flat, row...)
		}
		return &ParsedOutput{QMatrix: [][]float64{flat}, ErrorValues: errorValues}, nil
	}

	extracted := make([][]float64, 0, len(matrix))
	for _, row := range matrix {
		afterSkip := row[2:]
		strided := make([]float64, 0, (len(afterSkip)+columnStride-1)/columnStride)
		for col := 0; col < len(afterSkip); col += columnStride {
			strided = append(strided, afterSkip[col])
		}
		extracted = append(extracted, strided)
	}
	if len(extracted) == 0 || len(extracted[0]) == 0 {
		return nil, ErrNoDataAfterExtraction
	}

	cols := len(extracted[0])
	transposed := make([][]float64, cols)
	for c := 0; c < cols; c++ {
		transposed[c] = make([]float64, 0, len(extracted))
	}
	for _, row := range extracted {
		if len(row) != cols {
			slog.Warn("dda: skipping row with unexpected stride width", "expected", cols, "got", len(row))
			continue
		}
		for c, v := range row {
			transposed[c] = append(transposed[c], v)
		}
	}
	if len(transposed) == 0 {
		return nil, ErrTransposeEmpty
	}

	return &ParsedOutput{QMatrix: transposed, ErrorValues: errorValues}, nil
}
