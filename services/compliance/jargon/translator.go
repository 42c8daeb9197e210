// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jargon expands internal terminology before a feature description
// reaches retrieval or the model. Codenames like "ASL" or "Jellybean" carry
// no meaning for either, so every known term is rewritten in place as
// "TERM (definition)".
package jargon

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
)

// defaultTerminology is the built-in term table, used whenever no override
// CSV is supplied or the override cannot be read.
var defaultTerminology = map[string]string{
	"NR":         "Not recommended",
	"PF":         "Personalized feed",
	"GH":         "Geo-handler; a module for routing features based on user region",
	"CDS":        "Compliance Detection System",
	"DRT":        "Data retention threshold",
	"LCP":        "Local compliance policy",
	"Redline":    "Flag for legal review",
	"Softblock":  "A user-level limitation applied silently",
	"Spanner":    "A synthetic name for a rule engine",
	"ShadowMode": "Deploy feature in non-user-impact way to collect analytics",
	"T5":         "Tier 5 sensitivity data",
	"ASL":        "Age-sensitive logic",
	"Glow":       "A compliance-flagging status",
	"NSP":        "Non-shareable policy",
	"Jellybean":  "Internal parental control system",
	"EchoTrace":  "Log tracing mode to verify compliance routing",
	"BB":         "Baseline Behavior",
	"Snowcap":    "Codename for the child safety policy framework",
	"FR":         "Feature rollout status",
	"IMT":        "Internal monitoring trigger",
}

type rule struct {
	term       string
	definition string
	pattern    *regexp.Regexp
}

// Translator rewrites known terms inside free text. Immutable after
// construction, safe for concurrent use.
type Translator struct {
	rules []rule
}

// NewTranslator builds a Translator from the given term table. Matching is
// case-insensitive on whole words only, so "ASL" rewrites but "NASLUND" does
// not. Terms are applied longest-first so overlapping entries behave
// deterministically.
func NewTranslator(terminology map[string]string) *Translator {
	terms := make([]string, 0, len(terminology))
	for term := range terminology {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})

	rules := make([]rule, 0, len(terms))
	for _, term := range terms {
		rules = append(rules, rule{
			term:       term,
			definition: terminology[term],
			pattern:    regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return &Translator{rules: rules}
}

// Default returns a Translator over the built-in term table.
func Default() *Translator {
	return NewTranslator(defaultTerminology)
}

// Load builds a Translator from a two-column headerless CSV (term,
// definition). Any read or shape error falls back to the built-in table with
// a warning rather than failing startup.
func Load(csvPath string) *Translator {
	terminology, err := readTerminologyCSV(csvPath)
	if err != nil {
		slog.Warn("Could not load terminology table, using built-in defaults",
			"path", csvPath, "error", err)
		return Default()
	}
	slog.Info("Loaded terminology table", "path", csvPath, "terms", len(terminology))
	return NewTranslator(terminology)
}

func readTerminologyCSV(csvPath string) (map[string]string, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("terminology table %s is empty", csvPath)
	}

	terminology := make(map[string]string, len(records))
	for i, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("terminology table row %d has %d columns, want 2", i+1, len(record))
		}
		terminology[record[0]] = record[1]
	}
	return terminology, nil
}

// Translate rewrites every known term in text as "TERM (definition)",
// normalizing to the canonical casing from the term table.
func (t *Translator) Translate(text string) string {
	for _, r := range t.rules {
		expanded := fmt.Sprintf("%s (%s)", r.term, r.definition)
		text = r.pattern.ReplaceAllLiteralString(text, expanded)
	}
	return text
}

// Terms returns the sorted list of known terms, for diagnostics.
func (t *Translator) Terms() []string {
	terms := make([]string, 0, len(t.rules))
	for _, r := range t.rules {
		terms = append(terms, r.term)
	}
	sort.Strings(terms)
	return terms
}
