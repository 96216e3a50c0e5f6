package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

// RowField is the metadata key holding the 1-based data row number.
const RowField = "row"

func (e *Extractor) extractCSV(text string) ([]model.SourceRecord, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: csv has no header row", internalerr.ErrFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", internalerr.ErrFormat, err)
	}

	ranks := make([]int, len(header))
	found := false
	for i, h := range header {
		ranks[i] = fieldRank(h)
		if ranks[i] >= 0 {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: columns %v", internalerr.ErrNoTextField, header)
	}

	var records []model.SourceRecord
	rows := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv: %v", internalerr.ErrFormat, err)
		}
		rows++
		if rows > e.limits.MaxRows {
			return nil, fmt.Errorf("%w: more than %d rows", internalerr.ErrSizeLimit, e.limits.MaxRows)
		}

		var parts []rankedValue
		var meta model.Metadata
		for i, h := range header {
			var v string
			if i < len(row) {
				v = row[i]
			}
			if ranks[i] >= 0 {
				parts = append(parts, rankedValue{rank: ranks[i], value: v})
				continue
			}
			meta = append(meta, model.Field{Key: strings.TrimSpace(h), Value: v})
		}

		text := e.joinText(parts)
		if text == "" {
			e.logger.Debug("skipping row without text", zap.Int("row", rows))
			continue
		}
		records = append(records, model.SourceRecord{Text: text, Metadata: withRow(meta, rows)})
	}
	return records, nil
}
