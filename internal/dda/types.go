// Package dda parses and executes the external DDA analysis binary.
package dda

import "time"

// ParsedOutput is the strided, transposed result of a single DDA variant run.
type ParsedOutput struct {
	QMatrix     [][]float64 `json:"q_matrix"`
	ErrorValues []float64   `json:"error_values"`
}

// Variant identifies one of the four DDA analysis modes encoded in the
// -SELECT bitmask: Single Timeseries, Cross-Timeseries, Cross-Delay,
// Delay Evolution. Bit 3 (reserved) and bit 5 (SY) have no variant output.
type Variant string

const (
	VariantST Variant = "ST"
	VariantCT Variant = "CT"
	VariantCD Variant = "CD"
	VariantDE Variant = "DE"
)

var variantDisplayNames = map[Variant]string{
	VariantST: "Single Timeseries (ST)",
	VariantCT: "Cross-Timeseries (CT)",
	VariantCD: "Cross-Delay (CD)",
	VariantDE: "Delay Evolution (DE)",
}

// DisplayName returns the human-readable label for a variant.
func (v Variant) DisplayName() string {
	if n, ok := variantDisplayNames[v]; ok {
		return n
	}
	return string(v)
}

// SelectMask is the 6-bit -SELECT argument: {ST, CT, CD, reserved, DE, SY}.
type SelectMask struct {
	ST, CT, CD, DE, SY bool
}

// DefaultSelectMask enables only Single Timeseries, matching the runner's
// historical default of computing the cheapest variant unless told otherwise.
func DefaultSelectMask() SelectMask {
	return SelectMask{ST: true}
}

// Bits returns the six argv tokens in wire order, reserved bit always "0".
func (m SelectMask) Bits() []string {
	bit := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return []string{bit(m.ST), bit(m.CT), bit(m.CD), "0", bit(m.DE), bit(m.SY)}
}

// enabledVariants returns the variants switched on, in wire order. SY has no
// file output and is never included.
func (m SelectMask) enabledVariants() []Variant {
	var out []Variant
	if m.ST {
		out = append(out, VariantST)
	}
	if m.CT {
		out = append(out, VariantCT)
	}
	if m.CD {
		out = append(out, VariantCD)
	}
	if m.DE {
		out = append(out, VariantDE)
	}
	return out
}

// selectMaskFor returns a mask with only v's bit set, so Runner.Run can
// invoke the binary once per variant and report progress between calls.
func selectMaskFor(v Variant) SelectMask {
	switch v {
	case VariantST:
		return SelectMask{ST: true}
	case VariantCT:
		return SelectMask{CT: true}
	case VariantCD:
		return SelectMask{CD: true}
	case VariantDE:
		return SelectMask{DE: true}
	}
	return SelectMask{}
}

// ProgressFunc reports incremental progress during a Runner.Run call: a
// percentage in [0,100] and a short human-readable status message. Runner
// calls it once with 0 at the start and once per completed variant, so
// callers can drive a job's
// progress/message fields from the actual analysis instead of only a
// start/terminal pair.
type ProgressFunc func(percent int, message string)

// Request describes a single DDA analysis invocation.
type Request struct {
	AnalysisID   string
	FilePath     string
	Channels     []string // 1-based channel labels; defaults to ["1"]
	WindowLength int
	WindowStep   int
	Select       SelectMask
	CTWindowLen  int
	CTWindowStep int
	CTChannels   [][2]int // 1-based channel pairs for cross-timeseries variants
	TauMin       int
	TauMax       int
	StartBound   int
	EndBound     int
	ColumnStride int // default 4, see parser
}

// VariantResult pairs a variant's parsed output with display metadata.
type VariantResult struct {
	Variant     Variant      `json:"variant"`
	DisplayName string       `json:"display_name"`
	Output      ParsedOutput `json:"output"`
}

// Result is the aggregate outcome of running all enabled variants.
type Result struct {
	AnalysisID     string          `json:"analysis_id"`
	ChannelLabels  []string        `json:"channel_labels"`
	Primary        ParsedOutput    `json:"primary"`
	VariantResults []VariantResult `json:"variant_results"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}
