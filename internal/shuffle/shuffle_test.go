package shuffle

import (
	"math/rand"
	"testing"

	"aria/internal/track"
)

func TestBuildExcludesAndCoversEveryOtherTrack(t *testing.T) {
	t.Parallel()

	tracks := []track.Track{
		{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
	}
	rng := rand.New(rand.NewSource(1))

	order := Build(tracks, "b", rng)
	if len(order) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(order))
	}

	seen := map[string]int{}
	for _, id := range order {
		seen[id]++
		if id == "b" {
			t.Fatalf("excluded track present in permutation")
		}
	}
	for _, id := range []string{"a", "c", "d"} {
		if seen[id] != 1 {
			t.Fatalf("track %q appears %d times", id, seen[id])
		}
	}
}

func TestBuildEdgeSizes(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))

	if order := Build(nil, "", rng); len(order) != 0 {
		t.Fatalf("empty input should yield empty permutation")
	}
	if order := Build([]track.Track{{ID: "only"}}, "only", rng); len(order) != 0 {
		t.Fatalf("excluding the only track should yield empty permutation")
	}
	if order := Build([]track.Track{{ID: "only"}}, "", rng); len(order) != 1 || order[0] != "only" {
		t.Fatalf("single track permutation should contain it, got %v", order)
	}
}

func TestBuildReachesDifferentOrders(t *testing.T) {
	t.Parallel()

	tracks := []track.Track{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}
	rng := rand.New(rand.NewSource(3))

	distinct := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		order := Build(tracks, "", rng)
		key := ""
		for _, id := range order {
			key += id
		}
		distinct[key] = struct{}{}
	}

	if len(distinct) < 10 {
		t.Fatalf("expected many distinct orders, got %d", len(distinct))
	}
}
