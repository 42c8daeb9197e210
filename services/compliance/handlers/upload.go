// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/compliance/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HandleUploadDataset classifies a whole feature dataset uploaded as a
// multipart CSV under the "file" field.
//
// The CSV must carry feature_name and feature_description headers
// (case-insensitive). A malformed file is rejected with 400 before any
// feature is classified; there is no partial processing. Results come back
// as JSON, or as a downloadable CSV with ?format=csv.
func HandleUploadDataset(classifier *pipeline.Classifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := analyzeTracer.Start(c.Request.Context(), "HandleUploadDataset")
		defer span.End()

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file' upload field"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to open uploaded dataset", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
			return
		}
		defer file.Close()

		features, err := datatypes.ReadFeatureCSV(file)
		if err != nil {
			slog.Warn("Rejected uploaded dataset", "file", fileHeader.Filename, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		batchID := uuid.New().String()
		span.SetAttributes(
			attribute.Int("dataset.features", len(features)),
			attribute.String("dataset.batch_id", batchID),
		)
		slog.Info("Processing uploaded dataset",
			"batch_id", batchID, "file", fileHeader.Filename, "features", len(features))

		results := classifier.ProcessDataset(ctx, features)

		if c.Query("format") == "csv" {
			var buf bytes.Buffer
			if err := datatypes.WriteResultCSV(&buf, results); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				slog.Error("Failed to render result CSV", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render results"})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="compliance_results.csv"`)
			c.Data(http.StatusOK, "text/csv", buf.Bytes())
			return
		}

		c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "count": len(results), "results": results})
	}
}
