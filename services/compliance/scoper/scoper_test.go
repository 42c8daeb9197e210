// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scoper

import (
	"context"
	"errors"
	"testing"

	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) GenerateJSON(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *stubLLM) ModelName() string { return "stub/test" }

var testContexts = map[string]string{
	"UTAH_SocialMediaRegulation": "Utah minor curfew and parental consent rules.",
	"EU_DSA":                     "EU content moderation obligations.",
}

func testFeature() *datatypes.ComplianceFeature {
	return &datatypes.ComplianceFeature{Name: "Curfew lock", Description: "Night-time login block for minors."}
}

func TestScopeParsesDecisions(t *testing.T) {
	client := &stubLLM{response: `{
		"UTAH_SocialMediaRegulation": {"check_regulation": true, "reason": "Curfew for minors."},
		"EU_DSA": {"check_regulation": false, "reason": "Not a moderation feature."}
	}`}
	s := New(client)

	decisions := s.Scope(context.Background(), testFeature(), testContexts)

	require.Len(t, decisions, 2)
	assert.True(t, decisions["UTAH_SocialMediaRegulation"].CheckRegulation)
	assert.False(t, decisions["EU_DSA"].CheckRegulation)
	assert.Equal(t, 1, client.calls)
}

func TestScopeSingleCallForWholeCorpus(t *testing.T) {
	client := &stubLLM{response: `{}`}
	s := New(client)

	contexts := map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"}
	s.Scope(context.Background(), testFeature(), contexts)

	assert.Equal(t, 1, client.calls)
}

func TestScopeCallFailure(t *testing.T) {
	client := &stubLLM{err: errors.New("backend down")}
	s := New(client)

	decisions := s.Scope(context.Background(), testFeature(), testContexts)

	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.False(t, d.CheckRegulation)
		assert.Contains(t, d.Reason, "scoping call failed")
		assert.Contains(t, d.Reason, "backend down")
	}
}

func TestScopeUnparseableResponse(t *testing.T) {
	client := &stubLLM{response: "not json at all"}
	s := New(client)

	decisions := s.Scope(context.Background(), testFeature(), testContexts)

	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.False(t, d.CheckRegulation)
		assert.Contains(t, d.Reason, "scoping response unparseable")
	}
}

func TestScopeFencedResponse(t *testing.T) {
	client := &stubLLM{response: "```json\n{\"EU_DSA\": {\"check_regulation\": true, \"reason\": \"r\"}}\n```"}
	s := New(client)

	decisions := s.Scope(context.Background(), testFeature(), testContexts)

	assert.True(t, decisions["EU_DSA"].CheckRegulation)
	// A key the model skipped defaults to false instead of disappearing.
	require.Contains(t, decisions, "UTAH_SocialMediaRegulation")
	assert.False(t, decisions["UTAH_SocialMediaRegulation"].CheckRegulation)
}

func TestScopeDropsInventedKeys(t *testing.T) {
	client := &stubLLM{response: `{"MARS_COLONY_ACT": {"check_regulation": true, "reason": "made up"}}`}
	s := New(client)

	decisions := s.Scope(context.Background(), testFeature(), testContexts)

	require.Len(t, decisions, 2)
	assert.NotContains(t, decisions, "MARS_COLONY_ACT")
}

func TestScopeEmptyCorpus(t *testing.T) {
	client := &stubLLM{}
	s := New(client)

	decisions := s.Scope(context.Background(), testFeature(), map[string]string{})

	assert.Empty(t, decisions)
	assert.Zero(t, client.calls)
}
