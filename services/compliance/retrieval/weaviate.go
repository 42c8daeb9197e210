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
	"strings"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// upsertBatchSize is the number of documents batch-imported at once.
const upsertBatchSize = 100

// WeaviateStore implements VectorStore on a Weaviate instance. Each
// regulation collection becomes one Weaviate class named Regulation_<id>.
type WeaviateStore struct {
	client     *weaviate.Client
	vectorizer string
}

var _ VectorStore = (*WeaviateStore)(nil)

// NewWeaviateStore wraps an existing Weaviate client. vectorizer names the
// server-side vectorizer module (e.g. "text2vec-transformers"); empty
// selects the server default.
func NewWeaviateStore(client *weaviate.Client, vectorizer string) *WeaviateStore {
	return &WeaviateStore{client: client, vectorizer: vectorizer}
}

// className derives a valid Weaviate class name from a collection name.
// Weaviate class names must start with an uppercase letter and contain only
// alphanumerics and underscores.
func className(collection string) string {
	var b strings.Builder
	b.WriteString("Regulation_")
	for _, r := range collection {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// EnsureCollection creates the class for a collection if it does not exist.
// The operation is idempotent.
func (s *WeaviateStore) EnsureCollection(ctx context.Context, name string) error {
	class := className(name)
	if _, err := s.client.Schema().ClassGetter().WithClassName(class).Do(ctx); err == nil {
		slog.Debug("Weaviate class already exists", "class", class)
		return nil
	}

	schema := &models.Class{
		Class:       class,
		Description: fmt.Sprintf("Regulation documents for collection %s", name),
		Vectorizer:  s.vectorizer,
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Regulation text, prefixed with its filename",
				Tokenization: "word",
			},
			{
				Name:         "source",
				DataType:     []string{"text"},
				Description:  "Source file name within the regulation directory",
				Tokenization: "field",
			},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(schema).Do(ctx); err != nil {
		return fmt.Errorf("creating class %s: %w", class, err)
	}
	slog.Info("Created Weaviate class", "class", class, "collection", name)
	return nil
}

// Upsert batch-imports documents into the collection's class.
func (s *WeaviateStore) Upsert(ctx context.Context, name string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	class := className(name)
	indexed := 0

	for i := 0; i < len(docs); i += upsertBatchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		end := i + upsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[i:end]

		objects := make([]*models.Object, len(batch))
		for j, doc := range batch {
			objects[j] = &models.Object{
				Class: class,
				Properties: map[string]interface{}{
					"content": doc.Content,
					"source":  doc.Source,
				},
			}
		}

		result, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("batch import into %s failed: %w", class, err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors == nil {
				indexed++
			}
		}
	}

	slog.Info("Indexed regulation collection", "collection", name, "documents", indexed)
	return indexed, nil
}

// weaviateHit mirrors the GraphQL Get response shape for one object.
type weaviateHit struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Additional struct {
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// Query runs a nearText search against the collection's class. Results come
// back ranked by ascending distance.
func (s *WeaviateStore) Query(ctx context.Context, name, queryText string, topK int) ([]StoreHit, error) {
	if topK <= 0 {
		topK = 5
	}
	class := className(name)

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{queryText})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query against %s failed: %w", class, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("query against %s failed: %s", class, result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []StoreHit{}, nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return []StoreHit{}, nil
	}

	hits := make([]StoreHit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := StoreHit{
			Snippet: getString(m, "content"),
			Source:  getString(m, "source"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				hit.Distance = d
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// getString safely extracts a string property from a GraphQL object map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
