// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scoper narrows a feature to the regulation directories worth
// querying, with a single LLM call over the directory context descriptions.
package scoper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/compliance/prompt"
	"github.com/geolens-ai/GeoLens/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("geolens.compliance.scoper")

const scopeMaxTokens = 1024

// Scoper decides per regulation directory whether a feature needs checking
// against it.
type Scoper struct {
	client llm.LLMClient
}

func New(client llm.LLMClient) *Scoper {
	return &Scoper{client: client}
}

// Scope returns one decision per directory in contexts.
//
// The whole corpus is scoped in a single model call. Scope never returns an
// error: any call or parse failure degrades to an all-false decision set
// whose reasons record the failure, and the caller falls back to querying
// every collection.
func (s *Scoper) Scope(ctx context.Context, feature *datatypes.ComplianceFeature, contexts map[string]string) map[string]datatypes.DirectoryDecision {
	ctx, span := tracer.Start(ctx, "Scoper.Scope")
	defer span.End()
	span.SetAttributes(attribute.Int("scope.directories", len(contexts)))

	decisions := make(map[string]datatypes.DirectoryDecision, len(contexts))
	if len(contexts) == 0 {
		return decisions
	}

	raw, err := s.client.GenerateJSON(ctx, prompt.BuildScoping(contexts, feature), llm.JSONParams(scopeMaxTokens))
	if err != nil {
		slog.Warn("Scoping call failed, defaulting to no narrowing", "error", err)
		return failAll(contexts, fmt.Sprintf("scoping call failed: %v", err))
	}

	var parsed map[string]datatypes.DirectoryDecision
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		slog.Warn("Scoping response was not valid JSON, defaulting to no narrowing", "error", err)
		return failAll(contexts, fmt.Sprintf("scoping response unparseable: %v", err))
	}

	// Keys the model invented are dropped; keys it skipped default to false.
	for id := range contexts {
		if decision, ok := parsed[id]; ok {
			decisions[id] = decision
		} else {
			decisions[id] = datatypes.DirectoryDecision{
				CheckRegulation: false,
				Reason:          "not addressed in scoping response",
			}
		}
	}
	slog.Debug("Scoping complete", "directories", len(contexts), "selected", countSelected(decisions))
	return decisions
}

func failAll(contexts map[string]string, reason string) map[string]datatypes.DirectoryDecision {
	decisions := make(map[string]datatypes.DirectoryDecision, len(contexts))
	for id := range contexts {
		decisions[id] = datatypes.DirectoryDecision{CheckRegulation: false, Reason: reason}
	}
	return decisions
}

func countSelected(decisions map[string]datatypes.DirectoryDecision) int {
	n := 0
	for _, d := range decisions {
		if d.CheckRegulation {
			n++
		}
	}
	return n
}
