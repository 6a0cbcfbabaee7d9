// File: internal/orchestrator/hash.go
package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// ObservationHash fingerprints what the loop can currently see: the screen
// pixels plus the last known node set. Node order is irrelevant, so two
// observations of the same screen hash identically no matter how the device
// enumerated the tree.
func ObservationHash(screenshotB64 string, nodes []schemas.Selector) string {
	nodeHashes := make([]string, len(nodes))
	for i, n := range nodes {
		nodeHashes[i] = n.StableHash()
	}
	sort.Strings(nodeHashes)

	h := sha256.New()
	h.Write([]byte(screenshotB64))
	for _, nh := range nodeHashes {
		h.Write([]byte(nh))
	}
	return hex.EncodeToString(h.Sum(nil))
}
