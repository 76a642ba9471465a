package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyDocument     = errors.New("empty document")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptFile       = errors.New("corrupt file")
	ErrTemporary         = errors.New("temporary failure")

	// Retrieval and generation failures.
	ErrEmbeddingService     = errors.New("embedding service unavailable")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrGeneration           = errors.New("answer generation failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsInputError reports whether err was caused by a bad document or request.
func IsInputError(err error) bool {
	return IsKind(err, ErrInvalidInput) ||
		IsKind(err, ErrEmptyDocument) ||
		IsKind(err, ErrUnsupportedFormat) ||
		IsKind(err, ErrCorruptFile)
}
