// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval maps free-text queries to ranked regulation snippets
// across independently queryable collections, one per regulation directory.
package retrieval

import "context"

// Document is one regulation document prepared for indexing. Content is the
// file identity concatenated with the file text; Source keeps the filename
// for citation.
type Document struct {
	ID      string
	Source  string
	Content string
}

// StoreHit is a raw ranked hit from one collection of the backing store.
type StoreHit struct {
	Source   string
	Snippet  string
	Distance float64
}

// VectorStore is the retrieval backend capability: a persistent
// named-collection vector store. Upsert runs offline at corpus-load time;
// Query runs online per feature. Implementations must be safe for
// concurrent Query calls.
type VectorStore interface {
	// EnsureCollection creates the named collection if it does not exist.
	EnsureCollection(ctx context.Context, name string) error

	// Upsert indexes documents into the named collection, returning the
	// number of documents accepted.
	Upsert(ctx context.Context, name string, docs []Document) (int, error)

	// Query returns up to topK hits from the named collection, ranked by
	// ascending distance.
	Query(ctx context.Context, name, queryText string, topK int) ([]StoreHit, error)
}
