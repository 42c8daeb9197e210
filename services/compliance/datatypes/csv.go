// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadFeatureCSV parses an uploaded feature dataset.
//
// The header must contain feature_name and feature_description columns
// (case-insensitive match, extra columns ignored). A missing required column
// rejects the whole file; there is no partial processing. Rows with an empty
// name or description are rejected with their line number so the caller can
// surface a precise error before any LLM cost is incurred.
func ReadFeatureCSV(r io.Reader) ([]ComplianceFeature, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty CSV: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	nameIdx, descIdx, locIdx := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "feature_name":
			nameIdx = i
		case "feature_description":
			descIdx = i
		case "location":
			locIdx = i
		}
	}
	if nameIdx < 0 || descIdx < 0 {
		return nil, fmt.Errorf("CSV must contain feature_name and feature_description columns")
	}

	var features []ComplianceFeature
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}
		if nameIdx >= len(record) || descIdx >= len(record) {
			return nil, fmt.Errorf("row %d has too few columns", line)
		}
		feature := ComplianceFeature{
			Name:        strings.TrimSpace(record[nameIdx]),
			Description: strings.TrimSpace(record[descIdx]),
		}
		if locIdx >= 0 && locIdx < len(record) {
			feature.Location = strings.TrimSpace(record[locIdx])
		}
		if err := feature.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		features = append(features, feature)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("CSV contains no feature rows")
	}
	return features, nil
}

// WriteResultCSV writes results in the output schema, one row per feature,
// in the order given.
func WriteResultCSV(w io.Writer, results []ComplianceResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(OutputHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for i := range results {
		if err := writer.Write(results[i].Record()); err != nil {
			return fmt.Errorf("failed to write result row for %q: %w", results[i].FeatureName, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadResultCSV parses a previously written result CSV back into typed
// results. Used by tooling and the round-trip tests; the parse applies the
// same coercions as the output schema defines.
func ReadResultCSV(r io.Reader) ([]ComplianceResult, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read result CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty result CSV")
	}
	results := make([]ComplianceResult, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) != len(OutputHeader) {
			return nil, fmt.Errorf("result row has %d columns, want %d", len(record), len(OutputHeader))
		}
		flag, err := ParseComplianceFlag(record[1])
		if err != nil {
			return nil, err
		}
		score, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid confidence_score %q: %w", record[2], err)
		}
		results = append(results, ComplianceResult{
			FeatureName:        record[0],
			Flag:               flag,
			ConfidenceScore:    score,
			Reasoning:          record[3],
			RelatedRegulations: SplitList(record[4]),
			GeoRegions:         SplitList(record[5]),
			SourceFile:         record[6],
		})
	}
	return results, nil
}
