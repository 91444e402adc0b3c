// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result label values for alias additions.
const (
	ResultAdded     = "added"
	ResultBlank     = "blank"
	ResultDuplicate = "duplicate"
	ResultConflict  = "conflict"
)

// Query outcome label values.
const (
	QueryExact     = "exact"
	QueryPhonetic  = "phonetic"
	QuerySignature = "signature"
	QueryMiss      = "miss"
)

// Histogram bucket constants.
const (
	// BucketStart10us is the starting bucket for query latency (10µs to ~160ms).
	BucketStart10us = 0.00001
	// BucketStart1ms is the starting bucket for I/O latency (1ms to ~16s).
	BucketStart1ms = 0.001
	// BucketFactor2 is the common exponential growth factor.
	BucketFactor2 = 2
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout bounds the graceful shutdown of the metrics HTTP server.
const ShutdownTimeout = 5 * time.Second
