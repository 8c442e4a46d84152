package simulator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/okian/windfarm/internal/domain/model"
)

// Row is one recorded vector of channel values.
type Row = [model.NumChannels]float64

// Trace is a finite recorded sequence of channel vectors replayed by turbines.
type Trace struct {
	rows []Row
}

// NewTrace wraps recorded rows. An empty trace is rejected.
func NewTrace(rows []Row) (*Trace, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyTrace
	}
	cp := make([]Row, len(rows))
	copy(cp, rows)
	return &Trace{rows: cp}, nil
}

// LoadCSVTrace reads a trace from a CSV file whose header names the channels.
// Columns that are not channels (a timestamp, for example) are ignored.
func LoadCSVTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	return ReadCSVTrace(f)
}

// ReadCSVTrace parses CSV trace data from r.
func ReadCSVTrace(r io.Reader) (*Trace, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyTrace
		}
		return nil, fmt.Errorf("read trace header: %w", err)
	}

	columns := make(map[model.Channel]int, model.NumChannels)
	for i, name := range header {
		c, perr := model.ParseChannel(name)
		if perr != nil {
			continue
		}
		columns[c] = i
	}
	for _, c := range model.Channels() {
		if _, ok := columns[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingChannel, c)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, rerr := cr.Read()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read trace line %d: %w", line, rerr)
		}
		var row Row
		for c, idx := range columns {
			v, perr := strconv.ParseFloat(strings.TrimSpace(rec[idx]), 64)
			if perr != nil {
				return nil, fmt.Errorf("trace line %d, %s: %w", line, c, perr)
			}
			row[c] = v
		}
		rows = append(rows, row)
	}
	return NewTrace(rows)
}

// SyntheticTrace builds a deterministic sine-plus-noise trace of n rows. Every
// value stays inside its channel's nominal range. Each channel completes a
// whole number of cycles, so replay wraps without a step.
func SyntheticTrace(n int, seed int64) *Trace {
	if n < 1 {
		n = 1
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // simulation noise

	rows := make([]Row, n)
	for _, c := range model.Channels() {
		spec := c.Spec()
		mid := spec.Min + spec.Span()/2
		amp := 0.25 * spec.Span()
		noise := 0.02 * spec.Span()
		cycles := math.Max(1, math.Round(float64(n)/float64(40+7*int(c))))
		period := float64(n) / cycles
		phase := rng.Float64() * 2 * math.Pi
		for i := range rows {
			v := mid + amp*math.Sin(2*math.Pi*float64(i)/period+phase) + noise*(2*rng.Float64()-1)
			rows[i][c] = v
		}
	}
	return &Trace{rows: rows}
}

// Len returns the number of rows.
func (t *Trace) Len() int { return len(t.rows) }

// At returns row i modulo the trace length.
func (t *Trace) At(i int) Row {
	n := len(t.rows)
	return t.rows[((i%n)+n)%n]
}

// Cursor starts a replay at offset.
func (t *Trace) Cursor(offset int) *Cursor {
	return &Cursor{trace: t, pos: offset}
}

// Cursor replays a trace forever, wrapping to the first row after the last.
// A cursor is not safe for concurrent use.
type Cursor struct {
	trace *Trace
	pos   int
}

// Next returns the current row and advances.
func (c *Cursor) Next() Row {
	row := c.trace.At(c.pos)
	c.pos = (c.pos + 1) % c.trace.Len()
	return row
}
