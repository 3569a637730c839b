package models

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns an opaque short identifier: prefix + "_" + 12 hex chars.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}

// NewCorrelationID returns a bare 12-hex correlation id.
func NewCorrelationID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return hex[:12]
}
