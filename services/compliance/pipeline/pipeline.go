// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs the per-feature classification state machine:
// scoping, retrieval, prompting, generation, parsing. Classify is total; a
// failure at any stage degrades to a typed UNCERTAIN fallback result instead
// of an error.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/geolens-ai/GeoLens/services/compliance/corpus"
	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/compliance/jargon"
	"github.com/geolens-ai/GeoLens/services/compliance/prompt"
	"github.com/geolens-ai/GeoLens/services/compliance/retrieval"
	"github.com/geolens-ai/GeoLens/services/compliance/scoper"
	"github.com/geolens-ai/GeoLens/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("geolens.compliance.pipeline")

const (
	topK              = 5
	classifyMaxTokens = 1024

	scopeTimeout      = 60 * time.Second
	retrievalTimeout  = 30 * time.Second
	generationTimeout = 120 * time.Second

	// datasetWorkers bounds the parallel feature classifications in
	// ProcessDataset so a large upload cannot stampede the LLM backend.
	datasetWorkers = 4
)

// locationDirectories maps lowercase location-hint tokens to the regulation
// directory covering that jurisdiction. A recognized hint bypasses the
// scoper entirely; unrecognized hints mean "unspecified" and are never an
// error.
var locationDirectories = map[string]string{
	"utah":       "UTAH_SocialMediaRegulation",
	"california": "SB976_POKSMAA",
	"florida":    "CS_CS_HB_3",
	"eu":         "EU_DSA",
	"europe":     "EU_DSA",
	"european":   "EU_DSA",
	"us":         "US_reporting_child_sexual_abuse",
	"federal":    "US_reporting_child_sexual_abuse",
	"ncmec":      "US_reporting_child_sexual_abuse",
}

// Classifier wires the stages together. Immutable after construction and
// safe for concurrent use.
type Classifier struct {
	index      *retrieval.Index
	client     llm.LLMClient
	scoper     *scoper.Scoper
	translator *jargon.Translator

	// contexts holds each directory's human-readable description for the
	// scoping prompt.
	contexts map[string]string
}

// NewClassifier builds a Classifier over an already-populated index. The
// directory map supplies the scoping contexts; a nil translator disables
// jargon expansion.
func NewClassifier(index *retrieval.Index, client llm.LLMClient, dirs map[string]*corpus.Directory, translator *jargon.Translator) *Classifier {
	contexts := make(map[string]string, len(dirs))
	for id, dir := range dirs {
		contexts[id] = dir.Context
	}
	return &Classifier{
		index:      index,
		client:     client,
		scoper:     scoper.New(client),
		translator: translator,
		contexts:   contexts,
	}
}

// Classify produces the compliance verdict for one feature.
//
// Classify is total: it always returns a well-typed result, never an error.
// When any stage fails, the result is the fallback verdict, UNCERTAIN with
// zero confidence and a reasoning string recording the cause.
func (c *Classifier) Classify(ctx context.Context, feature *datatypes.ComplianceFeature) datatypes.ComplianceResult {
	ctx, span := tracer.Start(ctx, "Classifier.Classify")
	defer span.End()
	span.SetAttributes(attribute.String("feature.name", feature.Name))

	result, err := c.classify(ctx, feature)
	if err != nil {
		slog.Warn("Classification failed, returning fallback verdict",
			"feature", feature.Name, "error", err)
		span.SetAttributes(attribute.Bool("classification.fallback", true))
		return fallbackResult(feature.Name, err)
	}
	return result
}

func (c *Classifier) classify(ctx context.Context, feature *datatypes.ComplianceFeature) (datatypes.ComplianceResult, error) {
	translated := *feature
	if c.translator != nil {
		translated.Description = c.translator.Translate(feature.Description)
	}

	collections := c.scopeCollections(ctx, &translated)

	// An empty selection means every directory was scoped out (or the
	// scoper itself failed). Retrieval is skipped and the model sees no
	// excerpts; the grounding rule then pushes it toward UNCERTAIN or
	// NOT_REQUIRED rather than an invented citation.
	var hits []datatypes.RetrievalHit
	if len(collections) > 0 {
		retrieveCtx, cancel := context.WithTimeout(ctx, retrievalTimeout)
		hits = c.retrieve(retrieveCtx, collections, &translated)
		cancel()
	}

	provisional := provisionalCitation(hits)
	classificationPrompt := prompt.BuildClassification(hits, &translated)

	generateCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	raw, err := c.client.GenerateJSON(generateCtx, classificationPrompt, llm.JSONParams(classifyMaxTokens))
	cancel()
	if err != nil {
		return datatypes.ComplianceResult{}, &GenerationError{Model: c.client.ModelName(), Message: err.Error()}
	}

	return parseResult(feature.Name, raw, provisional)
}

// ClassifyDocuments classifies a feature directly against a path→content
// document map, with no scoping or vector retrieval. This is the batch-CLI
// path for running against an on-disk corpus without a vector store; it
// shares the prompting, generation, and parsing stages with Classify and is
// equally total.
func (c *Classifier) ClassifyDocuments(ctx context.Context, feature *datatypes.ComplianceFeature, docs map[string]string) datatypes.ComplianceResult {
	ctx, span := tracer.Start(ctx, "Classifier.ClassifyDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("feature.name", feature.Name),
		attribute.Int("corpus.documents", len(docs)),
	)

	translated := *feature
	if c.translator != nil {
		translated.Description = c.translator.Translate(feature.Description)
	}

	paths := make([]string, 0, len(docs))
	for path := range docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	hits := make([]datatypes.RetrievalHit, 0, len(paths))
	for _, path := range paths {
		hits = append(hits, datatypes.RetrievalHit{Source: path, Snippet: docs[path]})
	}

	classificationPrompt := prompt.BuildClassification(hits, &translated)

	generateCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	raw, err := c.client.GenerateJSON(generateCtx, classificationPrompt, llm.JSONParams(classifyMaxTokens))
	cancel()
	if err != nil {
		err = &GenerationError{Model: c.client.ModelName(), Message: err.Error()}
	} else {
		var result datatypes.ComplianceResult
		if result, err = parseResult(feature.Name, raw, datatypes.SourceNotAvailable); err == nil {
			return result
		}
	}

	slog.Warn("Classification failed, returning fallback verdict",
		"feature", feature.Name, "error", err)
	return fallbackResult(feature.Name, err)
}

// scopeCollections decides which regulation collections to query. A
// recognized location hint selects its directory without a model call;
// otherwise the scoper narrows the corpus. The returned slice may be empty,
// in which case the caller skips retrieval.
func (c *Classifier) scopeCollections(ctx context.Context, feature *datatypes.ComplianceFeature) []string {
	ctx, span := tracer.Start(ctx, "Classifier.Scope")
	defer span.End()

	if dir, ok := c.hintDirectory(feature.Location); ok {
		slog.Debug("Location hint matched, skipping scoper", "location", feature.Location, "collection", dir)
		span.SetAttributes(attribute.String("scope.hint_directory", dir))
		return []string{dir}
	}

	scopeCtx, cancel := context.WithTimeout(ctx, scopeTimeout)
	defer cancel()
	decisions := c.scoper.Scope(scopeCtx, feature, c.contexts)

	var selected []string
	for id, decision := range decisions {
		if decision.CheckRegulation {
			selected = append(selected, id)
		}
	}
	sort.Strings(selected)
	span.SetAttributes(attribute.Int("scope.selected", len(selected)))
	return selected
}

// hintDirectory matches the location hint's tokens against the jurisdiction
// table, returning the first registered directory.
func (c *Classifier) hintDirectory(location string) (string, bool) {
	for _, token := range strings.Fields(strings.ToLower(location)) {
		token = strings.Trim(token, ".,;:()")
		if dir, ok := locationDirectories[token]; ok && c.index.Has(dir) {
			return dir, true
		}
	}
	return "", false
}

// retrieve queries the selected collections and flattens the per-collection
// hits in sorted collection order. Error entries ride along for logging but
// carry no snippet.
func (c *Classifier) retrieve(ctx context.Context, collections []string, feature *datatypes.ComplianceFeature) []datatypes.RetrievalHit {
	ctx, span := tracer.Start(ctx, "Classifier.Retrieve")
	defer span.End()

	results := c.index.Query(ctx, collections, feature.QueryText(), topK)

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var hits []datatypes.RetrievalHit
	for _, name := range names {
		for _, hit := range results[name] {
			if hit.Err != "" {
				slog.Warn("Retrieval error for collection", "collection", name, "error", hit.Err)
			}
			hits = append(hits, hit)
		}
	}
	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	return hits
}

// provisionalCitation is the best-ranked retrieved source, used when the
// model omits source_file from its response.
func provisionalCitation(hits []datatypes.RetrievalHit) string {
	for _, hit := range hits {
		if hit.Err == "" && hit.Source != "" {
			return hit.Source
		}
	}
	return datatypes.SourceNotAvailable
}

type rawClassification struct {
	ComplianceFlag     string          `json:"compliance_flag"`
	ConfidenceScore    json.RawMessage `json:"confidence_score"`
	Reasoning          string          `json:"reasoning"`
	RelatedRegulations []string        `json:"related_regulations"`
	GeoRegions         []string        `json:"geo_regions"`
	SourceFile         string          `json:"source_file"`
}

// parseResult coerces the model response into a typed result.
//
// The flag must parse to the enum and reasoning must be present; those
// failures surface as ValidationError so the caller falls back. Confidence
// is coerced from number or numeric string and clamped to [0,1]. Missing
// lists become empty, and a missing source_file inherits the provisional
// citation.
func parseResult(featureName, raw, provisional string) (datatypes.ComplianceResult, error) {
	var parsed rawClassification
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &parsed); err != nil {
		return datatypes.ComplianceResult{}, &ValidationError{Message: fmt.Sprintf("malformed JSON: %v", err)}
	}

	flag, err := datatypes.ParseComplianceFlag(parsed.ComplianceFlag)
	if err != nil {
		return datatypes.ComplianceResult{}, &ValidationError{Field: "compliance_flag", Message: err.Error()}
	}

	if strings.TrimSpace(parsed.Reasoning) == "" {
		return datatypes.ComplianceResult{}, &ValidationError{Field: "reasoning", Message: "missing or empty"}
	}

	confidence, err := coerceConfidence(parsed.ConfidenceScore)
	if err != nil {
		return datatypes.ComplianceResult{}, &ValidationError{Field: "confidence_score", Message: err.Error()}
	}

	related := parsed.RelatedRegulations
	if related == nil {
		related = []string{}
	}
	regions := parsed.GeoRegions
	if regions == nil {
		regions = []string{}
	}

	source := strings.TrimSpace(parsed.SourceFile)
	if source == "" {
		source = provisional
	}

	return datatypes.ComplianceResult{
		FeatureName:        featureName,
		Flag:               flag,
		ConfidenceScore:    confidence,
		Reasoning:          parsed.Reasoning,
		RelatedRegulations: related,
		GeoRegions:         regions,
		SourceFile:         source,
	}, nil
}

// coerceConfidence accepts a JSON number or a numeric string and clamps the
// value to [0,1]. A missing or non-numeric score is an error.
func coerceConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing")
	}
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", string(raw))
	}
	if value < 0 {
		return 0.0, nil
	}
	if value > 1 {
		return 1.0, nil
	}
	return value, nil
}

// fallbackResult is the total-fallback verdict: well-typed, auditable, and
// recognizable by its "analysis failed:" reasoning prefix.
func fallbackResult(featureName string, cause error) datatypes.ComplianceResult {
	return datatypes.ComplianceResult{
		FeatureName:        featureName,
		Flag:               datatypes.FlagUncertain,
		ConfidenceScore:    0.0,
		Reasoning:          fmt.Sprintf("analysis failed: %v", cause),
		RelatedRegulations: []string{},
		GeoRegions:         []string{},
		SourceFile:         datatypes.SourceNotAvailable,
	}
}

// ProcessDataset classifies every feature and returns results in input
// order. Classification runs on a bounded worker pool; because Classify is
// total, a bad feature yields its fallback result without disturbing the
// rest of the batch.
func (c *Classifier) ProcessDataset(ctx context.Context, features []datatypes.ComplianceFeature) []datatypes.ComplianceResult {
	ctx, span := tracer.Start(ctx, "Classifier.ProcessDataset")
	defer span.End()
	span.SetAttributes(attribute.Int("dataset.features", len(features)))

	slog.Info("Processing features for compliance analysis",
		"count", len(features), "model", c.client.ModelName())

	results := make([]datatypes.ComplianceResult, len(features))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(datasetWorkers)

	for i := range features {
		i := i
		g.Go(func() error {
			slog.Debug("Analyzing feature", "index", i+1, "total", len(features), "feature", features[i].Name)
			results[i] = c.Classify(ctx, &features[i])
			return nil
		})
	}
	// Classify never returns an error, so Wait cannot fail.
	_ = g.Wait()
	return results
}
