package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewLedgerID builds a collision-resistant identifier from the wall clock
// and random entropy. It carries no ordering guarantee; order by the
// stored timestamp instead.
func NewLedgerID(prefix string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic("failed to read random entropy: " + err.Error())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(b))
}
