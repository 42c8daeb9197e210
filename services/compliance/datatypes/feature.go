// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the domain types shared across the compliance
// service: the feature under review, the typed classification result, the
// scoping decisions, and retrieval hits.
package datatypes

import (
	"fmt"
	"strings"
)

// ComplianceFlag is the tri-state verdict on whether a feature needs
// geo-specific legal logic.
type ComplianceFlag string

const (
	FlagRequired    ComplianceFlag = "REQUIRED"
	FlagNotRequired ComplianceFlag = "NOT_REQUIRED"
	FlagUncertain   ComplianceFlag = "UNCERTAIN"
)

// ParseComplianceFlag coerces a raw model string into the enumeration.
// Matching is case-insensitive and trims surrounding whitespace; anything
// outside the three values is an error so the caller can fall back.
func ParseComplianceFlag(raw string) (ComplianceFlag, error) {
	switch ComplianceFlag(strings.ToUpper(strings.TrimSpace(raw))) {
	case FlagRequired:
		return FlagRequired, nil
	case FlagNotRequired:
		return FlagNotRequired, nil
	case FlagUncertain:
		return FlagUncertain, nil
	default:
		return "", fmt.Errorf("unknown compliance flag %q", raw)
	}
}

// SourceNotAvailable is the sentinel citation used when no regulation
// document supports (or contradicts) the verdict.
const SourceNotAvailable = "N/A"

// ListSeparator joins related_regulations and geo_regions in the tabular
// output. SplitList uses the same separator so serialization round-trips.
const ListSeparator = "; "

// ComplianceFeature is one feature under review.
//
// Name and Description are required; Location is an optional caller-supplied
// jurisdiction hint. An unrecognized Location is treated as unspecified, not
// an error.
type ComplianceFeature struct {
	Name        string `json:"feature_name" binding:"required"`
	Description string `json:"feature_description" binding:"required"`
	Location    string `json:"location,omitempty"`
}

// Validate rejects features that must never reach the pipeline.
func (f *ComplianceFeature) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("feature_name is required")
	}
	if strings.TrimSpace(f.Description) == "" {
		return fmt.Errorf("feature_description is required")
	}
	return nil
}

// QueryText renders the feature the way it is presented to the retrieval
// index and the model.
func (f *ComplianceFeature) QueryText() string {
	return fmt.Sprintf("Feature: %s\nDescription: %s", f.Name, f.Description)
}

// DirectoryDecision is the Scoper's per-directory relevance verdict. It is
// an internal filter consumed immediately by the pipeline, never persisted.
type DirectoryDecision struct {
	CheckRegulation bool   `json:"check_regulation"`
	Reason          string `json:"reason"`
}

// RetrievalHit is one ranked snippet returned from a regulation collection.
// Err is set instead of the other fields when the collection itself failed;
// a failed collection never aborts its siblings.
type RetrievalHit struct {
	Collection string  `json:"collection"`
	Source     string  `json:"source"`
	Snippet    string  `json:"doc_snippet"`
	Distance   float64 `json:"distance"`
	Err        string  `json:"error,omitempty"`
}

// ComplianceResult is the typed, auditable outcome for one feature.
//
// Flag and ConfidenceScore are always present and well-typed, even when the
// pipeline failed entirely (fallback policy). Results are immutable once
// produced.
type ComplianceResult struct {
	FeatureName        string         `json:"feature_name"`
	Flag               ComplianceFlag `json:"compliance_flag"`
	ConfidenceScore    float64        `json:"confidence_score"`
	Reasoning          string         `json:"reasoning"`
	RelatedRegulations []string       `json:"related_regulations"`
	GeoRegions         []string       `json:"geo_regions"`
	SourceFile         string         `json:"source_file"`
}

// OutputHeader is the exact column order of the result CSV.
var OutputHeader = []string{
	"feature_name",
	"compliance_flag",
	"confidence_score",
	"reasoning",
	"related_regulations",
	"geo_regions",
	"source_file",
}

// Record renders the result as one CSV row in OutputHeader order.
func (r *ComplianceResult) Record() []string {
	return []string{
		r.FeatureName,
		string(r.Flag),
		fmt.Sprintf("%g", r.ConfidenceScore),
		r.Reasoning,
		strings.Join(r.RelatedRegulations, ListSeparator),
		strings.Join(r.GeoRegions, ListSeparator),
		r.SourceFile,
	}
}

// SplitList is the inverse of the ListSeparator join used by Record.
func SplitList(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ListSeparator)
}
