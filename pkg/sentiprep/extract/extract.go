// Package extract turns uploaded CSV and JSON buffers into ordered
// SourceRecords. Extraction errors are fatal for the whole file and wrap one
// of internalerr.ErrFormat, ErrNoTextField or ErrSizeLimit.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

// Format is a supported input format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat maps a user-supplied name ("CSV", ".json") onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".") {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unsupported format %q", internalerr.ErrFormat, name)
}

// DetectFormat infers the format from a file name's extension.
func DetectFormat(filename string) (Format, error) {
	return ParseFormat(filepath.Ext(filename))
}

// TextFields lists the recognized text field names in priority order.
// Values of several recognized fields are concatenated in this order.
var TextFields = []string{
	"text", "review", "comment", "feedback", "content",
	"message", "description", "summary", "opinion", "body",
}

// fieldRank returns the priority of name in TextFields, or -1.
func fieldRank(name string) int {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, f := range TextFields {
		if n == f {
			return i
		}
	}
	return -1
}

// Limits bounds the accepted input.
type Limits struct {
	MaxBytes int64 // buffer size
	MaxRows  int   // CSV data rows or JSON records
	MaxDepth int   // JSON nesting
}

// DefaultLimits are the upload limits of the service.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 2 << 20, MaxRows: 500, MaxDepth: 64}
}

// Extractor parses buffers into records. The zero value is not usable; call
// New.
type Extractor struct {
	limits    Limits
	separator string
	logger    *zap.Logger
}

// Options configures an Extractor.
type Options struct {
	Limits Limits
	// Separator joins the values of several recognized fields. Default " ".
	Separator string
	Logger    *zap.Logger
}

// New creates an Extractor, filling unset limits with DefaultLimits.
func New(opts Options) *Extractor {
	def := DefaultLimits()
	if opts.Limits.MaxBytes <= 0 {
		opts.Limits.MaxBytes = def.MaxBytes
	}
	if opts.Limits.MaxRows <= 0 {
		opts.Limits.MaxRows = def.MaxRows
	}
	if opts.Limits.MaxDepth <= 0 {
		opts.Limits.MaxDepth = def.MaxDepth
	}
	if opts.Separator == "" {
		opts.Separator = " "
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Extractor{
		limits:    opts.Limits,
		separator: opts.Separator,
		logger:    opts.Logger.Named("extract"),
	}
}

// Limits returns the effective limits.
func (e *Extractor) Limits() Limits { return e.limits }

// Extract decodes buf and returns one SourceRecord per logical row or object,
// in input order.
func (e *Extractor) Extract(buf []byte, format Format) ([]model.SourceRecord, error) {
	if int64(len(buf)) > e.limits.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", internalerr.ErrSizeLimit, len(buf), e.limits.MaxBytes)
	}
	if len(strings.TrimSpace(string(buf))) == 0 {
		return nil, fmt.Errorf("%w: empty input", internalerr.ErrFormat)
	}

	text, enc, err := decode(buf)
	if err != nil {
		return nil, err
	}
	if enc != EncodingUTF8 {
		e.logger.Debug("decoded with fallback encoding", zap.String("encoding", string(enc)))
	}

	var records []model.SourceRecord
	switch format {
	case FormatCSV:
		records, err = e.extractCSV(text)
	case FormatJSON:
		records, err = e.extractJSON(text)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", internalerr.ErrFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no non-empty text values", internalerr.ErrNoTextField)
	}

	for i := range records {
		records[i].Index = i
		records[i].ID = model.RecordID(i)
	}
	e.logger.Debug("extracted records",
		zap.String("format", string(format)),
		zap.Int("records", len(records)))
	return records, nil
}

// joinText cleans and concatenates recognized values in priority order.
func (e *Extractor) joinText(parts []rankedValue) string {
	sortRanked(parts)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := Clean(p.value); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, e.separator)
}

type rankedValue struct {
	rank  int
	value string
}

// sortRanked is an insertion sort; there are at most len(TextFields) parts.
func sortRanked(parts []rankedValue) {
	for i := 1; i < len(parts); i++ {
		for j := i; j > 0 && parts[j].rank < parts[j-1].rank; j-- {
			parts[j], parts[j-1] = parts[j-1], parts[j]
		}
	}
}
