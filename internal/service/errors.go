package service

import (
	"github.com/cockroachdb/errors"

	"matchrag/internal/dataset"
	"matchrag/internal/index"
	"matchrag/internal/prediction"
)

var (
	// ErrUninitialized means no knowledge base has been built successfully.
	ErrUninitialized = index.ErrUninitialized
	// ErrBuilding means a build is in progress.
	ErrBuilding = errors.New("knowledge base is being built")
	// ErrExternalService marks embedding, vector store or generation failures.
	ErrExternalService = errors.New("external service failure")
	// ErrDatasetLoad marks a dataset that could not be read at all.
	ErrDatasetLoad = dataset.ErrLoad
	// ErrMalformedOutput flags generated text missing the labelled lines.
	ErrMalformedOutput = prediction.ErrMalformedOutput
	// ErrInvalidRequest rejects empty team names or questions.
	ErrInvalidRequest = errors.New("invalid request")
)

// Strings returned across the boolean/text boundary.
const (
	NotBuiltMessage         = "ERROR: Knowledge base not built"
	BuildingMessage         = "ERROR: Knowledge base is being built"
	PredictionFailedMessage = "ERROR: Match prediction failed"
	QueryFailedMessage      = "ERROR: Query failed"
)

// IsSentinel reports whether text is one of the failure strings above.
func IsSentinel(text string) bool {
	switch text {
	case NotBuiltMessage, BuildingMessage, PredictionFailedMessage, QueryFailedMessage:
		return true
	}
	return false
}
