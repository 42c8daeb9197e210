// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/geolens-ai/GeoLens/services/compliance/corpus"
	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/compliance/jargon"
	"github.com/geolens-ai/GeoLens/services/compliance/retrieval"
	"github.com/geolens-ai/GeoLens/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM answers the scoping prompt and the classification prompt with
// canned responses, recording every prompt it sees.
type scriptedLLM struct {
	mu sync.Mutex

	scopeResponse    string
	classifyResponse string
	classifyErr      error

	prompts    []string
	scopeCalls int
}

func (s *scriptedLLM) GenerateJSON(ctx context.Context, p string, params llm.GenerationParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if strings.Contains(p, "compliance triage assistant") {
		s.scopeCalls++
		return s.scopeResponse, nil
	}
	return s.classifyResponse, s.classifyErr
}

func (s *scriptedLLM) ModelName() string { return "stub/test" }

func (s *scriptedLLM) classificationPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.prompts {
		if !strings.Contains(p, "compliance triage assistant") {
			out = append(out, p)
		}
	}
	return out
}

// memoryStore is an in-memory VectorStore ranking documents by query token
// overlap.
type memoryStore struct {
	mu          sync.Mutex
	collections map[string][]retrieval.Document
}

func newMemoryStore() *memoryStore {
	return &memoryStore{collections: make(map[string][]retrieval.Document)}
}

func (s *memoryStore) EnsureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = nil
	}
	return nil
}

func (s *memoryStore) Upsert(ctx context.Context, name string, docs []retrieval.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = append(s.collections[name], docs...)
	return len(docs), nil
}

func (s *memoryStore) Query(ctx context.Context, name, queryText string, topK int) ([]retrieval.StoreHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	terms := strings.Fields(strings.ToLower(queryText))
	var hits []retrieval.StoreHit
	for _, doc := range s.collections[name] {
		content := strings.ToLower(doc.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		distance := 1.0
		if len(terms) > 0 {
			distance = 1.0 - float64(matched)/float64(len(terms))
		}
		hits = append(hits, retrieval.StoreHit{Source: doc.Source, Snippet: doc.Content, Distance: distance})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func testCorpus(t *testing.T) map[string]*corpus.Directory {
	t.Helper()
	root := t.TempDir()
	fixtures := map[string]map[string]string{
		"UTAH_SocialMediaRegulation": {
			"context.txt": "Utah law on social media curfews and parental consent for minors.",
			"curfew.txt":  "Minors may not access social media between 10:30pm and 6:00am.",
		},
		"EU_DSA": {
			"context.txt":   "EU Digital Services Act content moderation obligations.",
			"article16.txt": "Providers shall operate notice and action mechanisms for illegal content.",
		},
	}
	for dir, files := range fixtures {
		for name, content := range files {
			path := filepath.Join(root, dir, name)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
			require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
		}
	}
	return corpus.LoadByDirectory(root)
}

func newTestClassifier(t *testing.T, client llm.LLMClient) *Classifier {
	t.Helper()
	dirs := testCorpus(t)
	index := retrieval.NewIndex(newMemoryStore())
	index.Build(context.Background(), dirs)
	return NewClassifier(index, client, dirs, jargon.Default())
}

const utahScopeResponse = `{
	"UTAH_SocialMediaRegulation": {"check_regulation": true, "reason": "Curfew for minors."},
	"EU_DSA": {"check_regulation": false, "reason": "Not a moderation feature."}
}`

const requiredResponse = `{
	"compliance_flag": "REQUIRED",
	"confidence_score": 0.9,
	"reasoning": "The curfew provision applies directly.",
	"related_regulations": ["Utah Social Media Regulation Act"],
	"geo_regions": ["US-UT"],
	"source_file": "curfew.txt"
}`

func curfewFeature() datatypes.ComplianceFeature {
	return datatypes.ComplianceFeature{
		Name:        "Curfew login blocker",
		Description: "Blocks logins for users under 18 during night hours using ASL.",
	}
}

func TestClassifyEndToEnd(t *testing.T) {
	client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyResponse: requiredResponse}
	c := newTestClassifier(t, client)

	feature := curfewFeature()
	result := c.Classify(context.Background(), &feature)

	assert.Equal(t, "Curfew login blocker", result.FeatureName)
	assert.Equal(t, datatypes.FlagRequired, result.Flag)
	assert.Equal(t, 0.9, result.ConfidenceScore)
	assert.Equal(t, "The curfew provision applies directly.", result.Reasoning)
	assert.Equal(t, []string{"Utah Social Media Regulation Act"}, result.RelatedRegulations)
	assert.Equal(t, []string{"US-UT"}, result.GeoRegions)
	assert.Equal(t, "curfew.txt", result.SourceFile)

	// Scoping selected Utah only, so the classification prompt must carry
	// the Utah excerpt and not the EU one.
	prompts := client.classificationPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "curfew.txt")
	assert.NotContains(t, prompts[0], "article16.txt")
}

func TestClassifyTranslatesJargonBeforePrompting(t *testing.T) {
	client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyResponse: requiredResponse}
	c := newTestClassifier(t, client)

	feature := curfewFeature()
	c.Classify(context.Background(), &feature)

	prompts := client.classificationPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "ASL (Age-sensitive logic)")
}

func TestClassifyLocationHintSkipsScoper(t *testing.T) {
	client := &scriptedLLM{classifyResponse: requiredResponse}
	c := newTestClassifier(t, client)

	feature := curfewFeature()
	feature.Location = "Utah state law"
	result := c.Classify(context.Background(), &feature)

	assert.Equal(t, datatypes.FlagRequired, result.Flag)
	assert.Zero(t, client.scopeCalls)

	prompts := client.classificationPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "curfew.txt")
	assert.NotContains(t, prompts[0], "article16.txt")
}

func TestClassifyUnrecognizedLocationFallsThroughToScoper(t *testing.T) {
	client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyResponse: requiredResponse}
	c := newTestClassifier(t, client)

	feature := curfewFeature()
	feature.Location = "Atlantis"
	c.Classify(context.Background(), &feature)

	assert.Equal(t, 1, client.scopeCalls)
}

func TestClassifyScopedOutSkipsRetrieval(t *testing.T) {
	allFalse := `{
		"UTAH_SocialMediaRegulation": {"check_regulation": false, "reason": "no"},
		"EU_DSA": {"check_regulation": false, "reason": "no"}
	}`
	uncertain := `{"compliance_flag": "NOT_REQUIRED", "confidence_score": 0.8, "reasoning": "No regulation in scope."}`
	client := &scriptedLLM{scopeResponse: allFalse, classifyResponse: uncertain}
	c := newTestClassifier(t, client)

	feature := curfewFeature()
	result := c.Classify(context.Background(), &feature)

	assert.Equal(t, datatypes.FlagNotRequired, result.Flag)
	assert.Equal(t, datatypes.SourceNotAvailable, result.SourceFile)

	// With every directory scoped out the model gets no excerpts at all.
	prompts := client.classificationPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "(no regulation excerpts were retrieved)")
	assert.NotContains(t, prompts[0], "curfew.txt")
}

func TestClassifyGenerationFailureFallback(t *testing.T) {
	client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyErr: errors.New("backend down")}
	c := newTestClassifier(t, client)

	feature := curfewFeature()
	result := c.Classify(context.Background(), &feature)

	assert.Equal(t, "Curfew login blocker", result.FeatureName)
	assert.Equal(t, datatypes.FlagUncertain, result.Flag)
	assert.Equal(t, 0.0, result.ConfidenceScore)
	assert.True(t, strings.HasPrefix(result.Reasoning, "analysis failed:"))
	assert.Contains(t, result.Reasoning, "backend down")
	assert.Empty(t, result.RelatedRegulations)
	assert.Empty(t, result.GeoRegions)
	assert.Equal(t, datatypes.SourceNotAvailable, result.SourceFile)
}

func TestClassifyMalformedResponseFallback(t *testing.T) {
	for name, response := range map[string]string{
		"not json":       "this is prose, not JSON",
		"unknown flag":   `{"compliance_flag": "MAYBE", "confidence_score": 0.5, "reasoning": "r"}`,
		"no reasoning":   `{"compliance_flag": "REQUIRED", "confidence_score": 0.5, "reasoning": "  "}`,
		"empty response": "",
	} {
		t.Run(name, func(t *testing.T) {
			client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyResponse: response}
			c := newTestClassifier(t, client)

			feature := curfewFeature()
			result := c.Classify(context.Background(), &feature)

			assert.Equal(t, datatypes.FlagUncertain, result.Flag)
			assert.Equal(t, 0.0, result.ConfidenceScore)
			assert.True(t, strings.HasPrefix(result.Reasoning, "analysis failed:"))
		})
	}
}

func TestParseResultConfidenceCoercion(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{`0.7`, 0.7},
		{`"0.8"`, 0.8},
		{`1.7`, 1.0},
		{`-0.2`, 0.0},
	}
	for _, tc := range cases {
		raw := fmt.Sprintf(`{"compliance_flag": "UNCERTAIN", "confidence_score": %s, "reasoning": "r"}`, tc.raw)
		result, err := parseResult("f", raw, "N/A")
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, result.ConfidenceScore, tc.raw)
	}
}

func TestParseResultConfidenceRejected(t *testing.T) {
	for _, raw := range []string{
		`{"compliance_flag": "UNCERTAIN", "confidence_score": "high", "reasoning": "r"}`,
		`{"compliance_flag": "UNCERTAIN", "reasoning": "r"}`,
	} {
		_, err := parseResult("f", raw, "N/A")
		require.Error(t, err, raw)
		assert.True(t, IsValidationError(err), raw)
	}
}

func TestParseResultMissingFields(t *testing.T) {
	raw := `{"compliance_flag": "required", "confidence_score": 0.6, "reasoning": "grounded"}`
	result, err := parseResult("f", raw, "curfew.txt")
	require.NoError(t, err)

	// Case-insensitive flag, missing lists become empty, and the missing
	// source inherits the provisional citation.
	assert.Equal(t, datatypes.FlagRequired, result.Flag)
	assert.Equal(t, []string{}, result.RelatedRegulations)
	assert.Equal(t, []string{}, result.GeoRegions)
	assert.Equal(t, "curfew.txt", result.SourceFile)
}

func TestParseResultFencedJSON(t *testing.T) {
	raw := "```json\n" + requiredResponse + "\n```"
	result, err := parseResult("f", raw, "N/A")
	require.NoError(t, err)
	assert.Equal(t, datatypes.FlagRequired, result.Flag)
}

func TestProcessDatasetPreservesOrder(t *testing.T) {
	client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyResponse: requiredResponse}
	c := newTestClassifier(t, client)

	features := make([]datatypes.ComplianceFeature, 10)
	for i := range features {
		features[i] = datatypes.ComplianceFeature{
			Name:        fmt.Sprintf("feature-%02d", i),
			Description: "Night-time curfew handling for minors.",
		}
	}

	results := c.ProcessDataset(context.Background(), features)

	require.Len(t, results, len(features))
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("feature-%02d", i), r.FeatureName)
		assert.Equal(t, datatypes.FlagRequired, r.Flag)
	}
}

func TestProcessDatasetIsolatesFailures(t *testing.T) {
	client := &scriptedLLM{scopeResponse: utahScopeResponse, classifyErr: errors.New("backend down")}
	c := newTestClassifier(t, client)

	features := []datatypes.ComplianceFeature{
		{Name: "a", Description: "d"},
		{Name: "b", Description: "d"},
	}
	results := c.ProcessDataset(context.Background(), features)

	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, features[i].Name, r.FeatureName)
		assert.Equal(t, datatypes.FlagUncertain, r.Flag)
	}
}

func TestClassifyDocumentsFlatCorpus(t *testing.T) {
	client := &scriptedLLM{classifyResponse: requiredResponse}
	c := NewClassifier(retrieval.NewIndex(nil), client, nil, jargon.Default())

	docs := map[string]string{
		"regulations/UTAH_SocialMediaRegulation/curfew.txt": "Minors may not access social media at night.",
		"regulations/EU_DSA/article16.txt":                  "Notice and action mechanisms for illegal content.",
	}
	feature := curfewFeature()
	result := c.ClassifyDocuments(context.Background(), &feature, docs)

	assert.Equal(t, datatypes.FlagRequired, result.Flag)
	assert.Zero(t, client.scopeCalls)

	// Every document is handed to the model, attributed by path, in sorted
	// order, with jargon expanded.
	prompts := client.classificationPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "--- Regulation from file: regulations/EU_DSA/article16.txt ---")
	assert.Contains(t, prompts[0], "--- Regulation from file: regulations/UTAH_SocialMediaRegulation/curfew.txt ---")
	assert.Less(t, strings.Index(prompts[0], "EU_DSA"), strings.Index(prompts[0], "UTAH_SocialMediaRegulation"))
	assert.Contains(t, prompts[0], "ASL (Age-sensitive logic)")
}

func TestClassifyDocumentsFallback(t *testing.T) {
	client := &scriptedLLM{classifyErr: errors.New("backend down")}
	c := NewClassifier(retrieval.NewIndex(nil), client, nil, nil)

	feature := curfewFeature()
	result := c.ClassifyDocuments(context.Background(), &feature, map[string]string{"a.txt": "text"})

	assert.Equal(t, datatypes.FlagUncertain, result.Flag)
	assert.True(t, strings.HasPrefix(result.Reasoning, "analysis failed:"))
	assert.Equal(t, datatypes.SourceNotAvailable, result.SourceFile)
}

func TestErrorTypes(t *testing.T) {
	var err error = &GenerationError{Model: "stub/test", Message: "down"}
	assert.True(t, IsGenerationError(err))
	assert.False(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "stub/test")

	err = &ValidationError{Field: "reasoning", Message: "missing"}
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "reasoning")
}
