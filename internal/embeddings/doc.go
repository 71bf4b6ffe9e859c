// Package embeddings provides embedding generation via multiple providers.
//
// Supports FastEmbed (local ONNX) and TEI (external service) providers.
// Factory pattern enables provider selection at runtime with automatic
// dimension detection for common models.
//
// Large miss batches fan out across ProcessPool worker processes
// (process-level, not goroutines: the ONNX inference path is CPU-bound
// and a shared in-process model serializes behind a mutex regardless of
// how many goroutines call it). Engine falls back to in-process
// goroutines when no ProcessPool is wired.
package embeddings
