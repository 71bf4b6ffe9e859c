package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ragmemoryNamespace is a fixed UUID namespace used to derive stable
// memory ids deterministically from their identifying fields (UUIDv5).
var ragmemoryNamespace = uuid.MustParse("6f9619ff-8b86-d011-b42d-00cf4fc964ff")

// DeriveMemoryID returns the stable identifier for a code-category
// memory. Two calls with the same inputs always produce the same id,
// which is what lets reindexing converge instead of leaking duplicates.
func DeriveMemoryID(projectName, filePath, unitType, name string, startLine int) string {
	canonical := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", projectName, filePath, unitType, name, startLine)
	return uuid.NewSHA1(ragmemoryNamespace, []byte(canonical)).String()
}

// WorkerID resolves the ambient test-worker identifier: an explicit
// override, then a generated id cached for the process lifetime so
// repeated calls within one worker stay stable.
var cachedWorkerID string

func WorkerID() string {
	if v := os.Getenv(EnvPrefix + "TEST_WORKER_ID"); v != "" {
		return v
	}
	if cachedWorkerID == "" {
		cachedWorkerID = uuid.NewString()
	}
	return cachedWorkerID
}

// DeriveWorkerCollection returns a collection name dedicated to the
// current test worker, so concurrent workers never share a collection.
// Format: test_pool_<hash8>, hashed so the raw worker id (which may
// contain characters outside the collection-name alphabet) never leaks
// into the name directly.
func DeriveWorkerCollection(workerID string) string {
	sum := sha256.Sum256([]byte(workerID))
	return "test_pool_" + hex.EncodeToString(sum[:])[:8]
}
