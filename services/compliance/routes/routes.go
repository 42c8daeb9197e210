// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/geolens-ai/GeoLens/services/compliance/handlers"
	"github.com/geolens-ai/GeoLens/services/compliance/pipeline"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, classifier *pipeline.Classifier) {
	router.GET("/health", handlers.HealthCheck)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		features := v1.Group("/features")
		{
			features.POST("/analyze", handlers.HandleAnalyzeFeature(classifier))
			features.POST("/upload", handlers.HandleUploadDataset(classifier))
		}
	}
}
