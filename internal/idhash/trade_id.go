// Package idhash derives deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(run_id|instrument|entry_date|entry_index)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(
	runID string,
	instrument string,
	entryDate time.Time,
	entryIndex int,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		runID,
		instrument,
		entryDate.UTC().Format("2006-01-02"),
		entryIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
