// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/geolens-ai/GeoLens/services/compliance/corpus"
	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var indexTracer = otel.Tracer("geolens.compliance.retrieval")

// Index exposes the regulation collections for querying. It is constructed
// once at startup, populated from the corpus loader output, and read-only
// afterwards, so it is safe for concurrent use by parallel feature
// pipelines.
type Index struct {
	store       VectorStore
	collections map[string]bool
}

// NewIndex wraps a VectorStore with the per-collection isolation contract.
func NewIndex(store VectorStore) *Index {
	return &Index{
		store:       store,
		collections: make(map[string]bool),
	}
}

// Build ingests the loaded corpus into the store, one collection per
// regulation directory. A failure in one directory is logged and isolated;
// the remaining directories are still indexed and the failed collection is
// still registered so queries against it surface the error per collection
// rather than silently returning nothing.
func (ix *Index) Build(ctx context.Context, dirs map[string]*corpus.Directory) {
	ctx, span := indexTracer.Start(ctx, "Index.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("corpus.directories", len(dirs)))

	for id, dir := range dirs {
		ix.collections[id] = true

		if err := ix.store.EnsureCollection(ctx, id); err != nil {
			slog.Error("Failed to ensure collection, skipping its documents",
				"collection", id, "error", err)
			continue
		}

		docs := make([]Document, 0, len(dir.Files))
		for _, file := range dir.Files {
			content, err := dir.ReadFile(file)
			if err != nil {
				slog.Warn("Error reading regulation file", "collection", id, "file", file, "error", err)
				continue
			}
			docs = append(docs, Document{
				ID:      id + "/" + file,
				Source:  file,
				Content: fmt.Sprintf("%s\n%s", file, content),
			})
		}

		if _, err := ix.store.Upsert(ctx, id, docs); err != nil {
			slog.Error("Failed to index collection", "collection", id, "error", err)
		}
	}
}

// Collections returns the sorted names of all registered collections.
func (ix *Index) Collections() []string {
	names := make([]string, 0, len(ix.collections))
	for name := range ix.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the named collection is registered.
func (ix *Index) Has(name string) bool {
	return ix.collections[name]
}

// Query runs the text query against each named collection independently and
// returns the per-collection ranked hits.
//
// An empty collection set means "all registered collections". An unknown
// name yields a single not-found hit for that entry; a backend failure for
// one collection yields a single error hit for that entry. Neither aborts
// the sibling lookups: one corrupt or unavailable collection must never
// block classification against the others. Hits are ranked by ascending
// distance.
func (ix *Index) Query(ctx context.Context, collections []string, queryText string, topK int) map[string][]datatypes.RetrievalHit {
	ctx, span := indexTracer.Start(ctx, "Index.Query")
	defer span.End()

	if len(collections) == 0 {
		collections = ix.Collections()
	}
	span.SetAttributes(
		attribute.Int("query.collections", len(collections)),
		attribute.Int("query.top_k", topK),
	)

	results := make(map[string][]datatypes.RetrievalHit, len(collections))
	for _, name := range collections {
		if !ix.collections[name] {
			results[name] = []datatypes.RetrievalHit{{
				Collection: name,
				Err:        "collection not found",
			}}
			continue
		}

		hits, err := ix.store.Query(ctx, name, queryText, topK)
		if err != nil {
			slog.Warn("Collection query failed, isolating", "collection", name, "error", err)
			results[name] = []datatypes.RetrievalHit{{
				Collection: name,
				Err:        err.Error(),
			}}
			continue
		}

		ranked := make([]datatypes.RetrievalHit, 0, len(hits))
		for _, hit := range hits {
			ranked = append(ranked, datatypes.RetrievalHit{
				Collection: name,
				Source:     hit.Source,
				Snippet:    hit.Snippet,
				Distance:   hit.Distance,
			})
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Distance < ranked[j].Distance
		})
		results[name] = ranked
	}
	return results
}
