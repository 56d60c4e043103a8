// Package model holds the flow record and graph types shared by the loader,
// the graph builder and the visual encoder.
package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MeasureKind classifies how a numeric CSV cell was read.
type MeasureKind int

const (
	// MeasureEmpty is a missing or blank cell.
	MeasureEmpty MeasureKind = iota
	// MeasureNumber is a cell that parsed as a finite number.
	MeasureNumber
	// MeasureText is a cell that did not parse as a number; the literal is kept.
	MeasureText
)

func (k MeasureKind) String() string {
	switch k {
	case MeasureEmpty:
		return "empty"
	case MeasureNumber:
		return "number"
	case MeasureText:
		return "text"
	default:
		return fmt.Sprintf("MeasureKind(%d)", int(k))
	}
}

// Measure is one numeric column of a flow record. Cells are typed
// permissively: numbers become numbers, blanks become empty, and anything else
// keeps its literal text so bad data stays visible downstream.
type Measure struct {
	Kind  MeasureKind
	Value float64
	Raw   string
}

// ParseMeasure coerces a raw cell. Only finite numbers are accepted as
// numeric; "NaN" and "Inf" spellings are kept as text.
func ParseMeasure(raw string) Measure {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Measure{Kind: MeasureEmpty, Raw: raw}
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Measure{Kind: MeasureText, Raw: raw}
	}
	return Measure{Kind: MeasureNumber, Value: v, Raw: raw}
}

// Num returns a numeric measure.
func Num(v float64) Measure {
	return Measure{Kind: MeasureNumber, Value: v, Raw: strconv.FormatFloat(v, 'g', -1, 64)}
}

// Text returns a non-numeric measure holding the literal s.
func Text(s string) Measure {
	return Measure{Kind: MeasureText, Raw: s}
}

// Float returns the arithmetic value: the number, 0 for empty, NaN for text.
func (m Measure) Float() float64 {
	switch m.Kind {
	case MeasureNumber:
		return m.Value
	case MeasureText:
		return math.NaN()
	default:
		return 0
	}
}

// IsNumeric reports whether the cell held a number.
func (m Measure) IsNumeric() bool { return m.Kind == MeasureNumber }

func (m Measure) String() string {
	switch m.Kind {
	case MeasureNumber:
		return strconv.FormatFloat(m.Value, 'g', -1, 64)
	case MeasureText:
		return m.Raw
	default:
		return ""
	}
}

// FlowRecord is one CSV row describing an observed client/server exchange.
type FlowRecord struct {
	Line        int // 1-based physical line in the source
	ClientAddr  string
	ServerAddr  string
	ClientBytes Measure
	ServerBytes Measure
	Events      Measure
}

// SumBytes adds server and client bytes. A text operand yields NaN.
func (r FlowRecord) SumBytes() float64 {
	return r.ServerBytes.Float() + r.ClientBytes.Float()
}
