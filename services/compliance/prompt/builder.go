// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompt renders the model-facing prompts for classification and
// scoping. The prompts are the contract with the model: the classification
// prompt pins the six-field JSON response shape and the grounding rule, and
// the scoping prompt pins the per-directory decision shape.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
)

// BuildClassification renders the classification prompt from the retrieved
// regulation snippets, preserving their retrieval order. Each snippet is
// attributed to its source file so the model can cite it; the instructions
// require grounding-only answers and an exact source file whenever the flag
// is REQUIRED.
func BuildClassification(hits []datatypes.RetrievalHit, feature *datatypes.ComplianceFeature) string {
	blocks := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Err != "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("--- Regulation from file: %s ---\n%s", hit.Source, hit.Snippet))
	}
	regulations := strings.Join(blocks, "\n\n")
	if regulations == "" {
		regulations = "(no regulation excerpts were retrieved)"
	}

	var b strings.Builder
	b.WriteString("You are a compliance expert. Analyze the following software feature against the provided regulation excerpts.\n")
	b.WriteString("Identify if geo-specific compliance logic for the feature is REQUIRED, NOT_REQUIRED or UNCERTAIN.\n")
	b.WriteString("Base your analysis ONLY on the excerpts below. Do not rely on outside knowledge of other laws.\n")
	b.WriteString("If it's REQUIRED, you MUST state the exact file name from the provided excerpts that supports your conclusion.\n\n")
	b.WriteString("--- Regulations to reference ---\n")
	b.WriteString(regulations)
	b.WriteString("\n\n--- Feature to analyze ---\n")
	fmt.Fprintf(&b, "Feature Name: %s\n", feature.Name)
	fmt.Fprintf(&b, "Description: %s\n\n", feature.Description)
	b.WriteString("Respond with a JSON object containing the following keys:\n")
	b.WriteString("1. `compliance_flag`: 'REQUIRED', 'NOT_REQUIRED', or 'UNCERTAIN'\n")
	b.WriteString("2. `confidence_score`: A float from 0.0 to 1.0\n")
	b.WriteString("3. `reasoning`: A brief explanation for the flag and confidence score.\n")
	b.WriteString("4. `related_regulations`: An array of relevant regulations (e.g., ['GDPR', 'CCPA']).\n")
	b.WriteString("5. `geo_regions`: An array of geographic regions affected (e.g., ['EU', 'US']).\n")
	b.WriteString("6. `source_file`: The name of the regulation file that directly supports your finding, or \"N/A\".\n\n")
	b.WriteString("Example response:\n")
	b.WriteString("```json\n")
	b.WriteString(`{ "compliance_flag": "REQUIRED", "confidence_score": 0.9, "reasoning": "The curfew provision applies to minors in this jurisdiction.", "related_regulations": ["Utah Social Media Regulation Act"], "geo_regions": ["US-UT"], "source_file": "curfew.txt" }`)
	b.WriteString("\n```\n")
	return b.String()
}

// BuildScoping renders the single relevance-scoping prompt covering every
// regulation directory. Directories are emitted in sorted id order so the
// prompt is deterministic for a given corpus.
func BuildScoping(contexts map[string]string, feature *datatypes.ComplianceFeature) string {
	ids := make([]string, 0, len(contexts))
	for id := range contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("You are a compliance triage assistant. For each regulation group below, decide whether the feature could plausibly fall under it.\n")
	b.WriteString("Be inclusive: when in doubt, mark the group for checking.\n\n")
	b.WriteString("--- Regulation groups ---\n")
	for _, id := range ids {
		context := strings.TrimSpace(contexts[id])
		if context == "" {
			context = "(no description available)"
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", id, context)
	}
	b.WriteString("--- Feature ---\n")
	fmt.Fprintf(&b, "Feature Name: %s\n", feature.Name)
	fmt.Fprintf(&b, "Description: %s\n\n", feature.Description)
	b.WriteString("Respond with a single JSON object whose keys are exactly the group ids above.\n")
	b.WriteString("Each value must be an object with `check_regulation` (boolean) and `reason` (short string).\n\n")
	b.WriteString("Example response:\n")
	b.WriteString("```json\n")
	b.WriteString(`{ "EU_DSA": { "check_regulation": true, "reason": "Content moderation feature in the EU." } }`)
	b.WriteString("\n```\n")
	return b.String()
}
