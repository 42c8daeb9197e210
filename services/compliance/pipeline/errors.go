// Copyright (C) 2025 GeoLens AI (dev@geolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "fmt"

// GenerationError is returned when the model call itself failed: transport
// error, backend outage, or an empty completion.
type GenerationError struct {
	Model   string
	Message string
}

// Error implements the error interface for GenerationError.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %s", e.Model, e.Message)
}

// IsGenerationError checks if an error is a GenerationError.
func IsGenerationError(err error) bool {
	_, ok := err.(*GenerationError)
	return ok
}

// ValidationError is returned when the model responded but the response
// cannot be coerced into a well-formed classification: malformed JSON, an
// unknown flag value, or missing reasoning.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid classification response: %s", e.Message)
	}
	return fmt.Sprintf("invalid classification response (%s): %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}
