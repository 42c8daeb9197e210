// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/geolens-ai/GeoLens/services/compliance/datatypes"
	"github.com/geolens-ai/GeoLens/services/compliance/pipeline"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var analyzeTracer = otel.Tracer("geolens.compliance.handlers")

// HandleAnalyzeFeature classifies a single feature posted as JSON.
//
// Validation failures are rejected with 400 before the pipeline runs; an
// unrecognized location is not a failure, it simply means no jurisdiction
// hint.
func HandleAnalyzeFeature(classifier *pipeline.Classifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := analyzeTracer.Start(c.Request.Context(), "HandleAnalyzeFeature")
		defer span.End()

		var feature datatypes.ComplianceFeature
		if err := c.BindJSON(&feature); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the analyze request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := feature.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result := classifier.Classify(ctx, &feature)
		c.JSON(http.StatusOK, result)
	}
}
