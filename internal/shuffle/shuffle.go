// Package shuffle builds the randomized remaining play order used while
// shuffle mode is active.
package shuffle

import (
	"math/rand"

	"aria/internal/track"
)

// Build returns the IDs of every track except excludeID in a uniformly
// random order (Fisher-Yates). The input slice is not modified.
func Build(tracks []track.Track, excludeID string, rng *rand.Rand) []string {
	pool := make([]string, 0, len(tracks))
	for _, item := range tracks {
		if item.ID == excludeID {
			continue
		}
		pool = append(pool, item.ID)
	}

	for i := len(pool) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool
}
