// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/geolens-ai/GeoLens/pkg/logging"
	"github.com/geolens-ai/GeoLens/services/compliance/corpus"
	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/compliance/jargon"
	"github.com/geolens-ai/GeoLens/services/compliance/pipeline"
	"github.com/geolens-ai/GeoLens/services/compliance/retrieval"
	"github.com/geolens-ai/GeoLens/services/llm"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

var (
	analyzeInput       string
	analyzeOutput      string
	analyzeRegulations string
	analyzeLocation    string

	analyzeCmd = &cobra.Command{
		Use:   "analyze",
		Short: "Classifies a CSV of features against the regulation corpus",
		Long: `Reads a feature dataset (feature_name, feature_description columns),
classifies each feature, and writes the verdicts to a result CSV.

With WEAVIATE_SERVICE_URL set, the corpus is indexed into Weaviate and each
feature retrieves only its most relevant excerpts. Without it, every loaded
regulation document is given to the model directly, optionally narrowed with
--location.`,
		RunE: runAnalyzeCommand,
	}
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeInput, "input", "i", "", "input feature CSV (required)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "output result CSV (default: timestamped)")
	analyzeCmd.Flags().StringVarP(&analyzeRegulations, "regulations", "r", "regulations", "regulation corpus directory")
	analyzeCmd.Flags().StringVarP(&analyzeLocation, "location", "l", "", "jurisdiction filter for the flat corpus")
	_ = analyzeCmd.MarkFlagRequired("input")
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "cli",
	})
	defer logger.Close()

	inputFile, err := os.Open(analyzeInput)
	if err != nil {
		return fmt.Errorf("could not open input CSV: %w", err)
	}
	features, err := datatypes.ReadFeatureCSV(inputFile)
	inputFile.Close()
	if err != nil {
		return fmt.Errorf("invalid input CSV: %w", err)
	}
	logger.Info("Loaded feature dataset", "path", analyzeInput, "features", len(features))

	llmClient, err := newLLMClient()
	if err != nil {
		return fmt.Errorf("could not initialize LLM client: %w", err)
	}
	logger.Info("Configured LLM client", "model", llmClient.ModelName())

	translator := jargon.Default()
	if path := os.Getenv("TERMINOLOGY_CSV_PATH"); path != "" {
		translator = jargon.Load(path)
	}

	ctx := context.Background()
	var results []datatypes.ComplianceResult

	if client := weaviateClientFromEnv(); client != nil {
		dirs := corpus.LoadByDirectory(analyzeRegulations)
		index := retrieval.NewIndex(retrieval.NewWeaviateStore(client, os.Getenv("WEAVIATE_VECTORIZER")))
		index.Build(ctx, dirs)

		classifier := pipeline.NewClassifier(index, llmClient, dirs, translator)
		if analyzeLocation != "" {
			for i := range features {
				if features[i].Location == "" {
					features[i].Location = analyzeLocation
				}
			}
		}
		results = classifier.ProcessDataset(ctx, features)
	} else {
		logger.Info("No vector store configured, classifying against the flat corpus",
			"regulations", analyzeRegulations, "location", analyzeLocation)
		docs := corpus.LoadFlat(analyzeRegulations, analyzeLocation)
		logger.Info("Loaded regulation documents", "documents", len(docs))

		classifier := pipeline.NewClassifier(retrieval.NewIndex(nil), llmClient, nil, translator)
		results = make([]datatypes.ComplianceResult, 0, len(features))
		for i := range features {
			logger.Info("Analyzing feature", "index", i+1, "total", len(features), "feature", features[i].Name)
			results = append(results, classifier.ClassifyDocuments(ctx, &features[i], docs))
		}
	}

	outputPath := analyzeOutput
	if outputPath == "" {
		outputPath = fmt.Sprintf("compliance_results_%s.csv", time.Now().Format("20060102_150405"))
	}
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("could not create output CSV: %w", err)
	}
	defer outputFile.Close()
	if err := datatypes.WriteResultCSV(outputFile, results); err != nil {
		return fmt.Errorf("could not write results: %w", err)
	}

	logger.Info("Wrote compliance results", "path", outputPath, "features", len(results))
	return nil
}

func newLLMClient() (llm.LLMClient, error) {
	switch os.Getenv("LLM_BACKEND_TYPE") {
	case "gemini":
		client, err := llm.NewGeminiClient(context.Background())
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// weaviateClientFromEnv returns nil when WEAVIATE_SERVICE_URL is unset or
// invalid, selecting the flat-corpus path.
func weaviateClientFromEnv() *weaviate.Client {
	raw := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if raw == "" || !strings.Contains(raw, "http") {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme})
	if err != nil {
		return nil
	}
	return client
}
