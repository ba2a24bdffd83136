package model

import "time"

// ConfidenceLevel is a three-way bucketing of a continuous confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// BucketConfidence maps a confidence score to its level:
// >=0.8 HIGH, >=0.5 MEDIUM, else LOW.
func BucketConfidence(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= 0.8:
		return ConfidenceHigh
	case confidence >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ValueKind discriminates the shapes an extracted value can take.
type ValueKind string

const (
	ValueNumber  ValueKind = "number"
	ValuePercent ValueKind = "percent"
	ValueText    ValueKind = "text"
	// ValueRaw carries anything the model produced that doesn't fit the
	// typed variants, preserved for forward compatibility.
	ValueRaw ValueKind = "raw"
)

// ScoreValue is the tagged union over the value shapes the extraction
// actually produces.
type ScoreValue struct {
	Kind   ValueKind `json:"kind"`
	Number float64   `json:"number,omitempty"`
	Text   string    `json:"text,omitempty"`
	Raw    any       `json:"raw,omitempty"`
}

// NumberValue wraps a numeric score.
func NumberValue(n float64) ScoreValue { return ScoreValue{Kind: ValueNumber, Number: n} }

// PercentValue wraps a percentage.
func PercentValue(n float64) ScoreValue { return ScoreValue{Kind: ValuePercent, Number: n} }

// TextValue wraps a free-text value.
func TextValue(s string) ScoreValue { return ScoreValue{Kind: ValueText, Text: s} }

// RawValue wraps an untyped value.
func RawValue(v any) ScoreValue { return ScoreValue{Kind: ValueRaw, Raw: v} }

// Float returns the numeric value and true for number/percent kinds.
func (v ScoreValue) Float() (float64, bool) {
	if v.Kind == ValueNumber || v.Kind == ValuePercent {
		return v.Number, true
	}
	return 0, false
}

// SourceRef attributes an extraction to one of its input documents.
type SourceRef struct {
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Type   string `json:"type,omitempty"`
}

// ExtractedData is the structured, validated payload produced by one
// successful extraction. ConfidenceLevel is always the deterministic bucket
// of Confidence.
type ExtractedData struct {
	Value           ScoreValue        `json:"value"`
	Confidence      float64           `json:"confidence"`
	ConfidenceLevel ConfidenceLevel   `json:"confidence_level"`
	Justification   string            `json:"justification"`
	Quotes          []string          `json:"quotes,omitempty"`
	Sources         []SourceRef       `json:"sources,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// ExtractionResult is the single externally visible outcome of an extract
// call. Failures of any kind (provider, parse, validation) land here as
// Success=false with an error message; callers never see a panic.
type ExtractionResult struct {
	Success    bool           `json:"success"`
	Data       *ExtractedData `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Cached     bool           `json:"cached"`
	DurationMS float64        `json:"duration_ms"`
}
