package player

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"aria/internal/db"
	"aria/internal/track"
)

func TestPlayCollectionStartsAtIndex(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	tracks := tracksForTest("a", "b", "c")
	state := store.PlayCollection(tracks, 1)

	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected track b to be current, got %+v", state.CurrentTrack)
	}
	if state.CurrentIndex != 1 {
		t.Fatalf("expected index 1, got %d", state.CurrentIndex)
	}
	if !state.IsPlaying || state.CurrentTime != 0 {
		t.Fatalf("expected playback from zero, got playing=%v time=%v", state.IsPlaying, state.CurrentTime)
	}
}

func TestPlayCollectionClampsStartIndex(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	state := store.PlayCollection(tracksForTest("a", "b"), 99)
	if state.CurrentIndex != 1 {
		t.Fatalf("expected start index clamped to 1, got %d", state.CurrentIndex)
	}

	state = store.PlayCollection(tracksForTest("a", "b"), -5)
	if state.CurrentIndex != 0 {
		t.Fatalf("expected start index clamped to 0, got %d", state.CurrentIndex)
	}
}

func TestPlayCollectionEmptyIsNoOp(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a"), 0)
	state := store.PlayCollection(nil, 0)

	if state.CurrentTrack == nil || state.CurrentTrack.ID != "a" {
		t.Fatalf("expected empty collection to leave current track alone")
	}
}

func TestPlayTrackSameIdentityTogglesPlayback(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	tracks := tracksForTest("a", "b")
	store.PlayCollection(tracks, 0)
	store.SetCurrentTime(42)

	state := store.PlayTrack(tracks[0])
	if state.IsPlaying {
		t.Fatalf("expected replay of current track to pause")
	}
	if state.CurrentTime != 42 {
		t.Fatalf("expected toggle to keep position, got %v", state.CurrentTime)
	}

	state = store.PlayTrack(tracks[0])
	if !state.IsPlaying {
		t.Fatalf("expected second toggle to resume")
	}
	if state.CurrentTime != 42 {
		t.Fatalf("expected resume to keep position, got %v", state.CurrentTime)
	}
}

func TestPlayTrackSwitchesAndResetsPosition(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	tracks := tracksForTest("a", "b", "c")
	store.PlayCollection(tracks, 0)
	store.SetCurrentTime(42)

	state := store.PlayTrack(tracks[2])
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "c" {
		t.Fatalf("expected track c to become current")
	}
	if state.CurrentIndex != 2 {
		t.Fatalf("expected index 2, got %d", state.CurrentIndex)
	}
	if !state.IsPlaying || state.CurrentTime != 0 {
		t.Fatalf("expected playback restart from zero")
	}
}

func TestPlayTrackNotInQueueIsNoOp(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	tracks := tracksForTest("a", "b")
	store.PlayCollection(tracks, 0)

	state := store.PlayTrack(trackForTest("ghost"))
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "a" {
		t.Fatalf("expected unknown track to leave current track alone")
	}
	if !state.IsPlaying {
		t.Fatalf("expected playback to continue")
	}
}

func TestSetQueueKeepsCurrentWhenPresent(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	tracks := tracksForTest("a", "b", "c")
	store.PlayCollection(tracks, 1)
	store.SetCurrentTime(17)

	state := store.SetQueue(tracksForTest("x", "b", "y", "z"))
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected current track to survive the swap")
	}
	if state.CurrentIndex != 1 {
		t.Fatalf("expected index re-resolved to 1, got %d", state.CurrentIndex)
	}
	if !state.IsPlaying {
		t.Fatalf("expected playback to continue across the swap")
	}
	if state.CurrentTime != 17 {
		t.Fatalf("expected position to survive the swap, got %v", state.CurrentTime)
	}
}

func TestSetQueueFallsBackToFirstWhenCurrentDropped(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)

	state := store.SetQueue(tracksForTest("x", "y"))
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "x" {
		t.Fatalf("expected first new track to become current")
	}
	if state.CurrentIndex != 0 || state.IsPlaying || state.CurrentTime != 0 {
		t.Fatalf("expected paused cursor at zero, got %+v", state)
	}
}

func TestSetQueueSeedsCurrentWhenIdle(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	state := store.SetQueue(tracksForTest("a", "b", "c"))
	if state.CurrentTrack == nil {
		t.Fatalf("expected a current track to be seeded")
	}
	if state.IsPlaying {
		t.Fatalf("expected seeded track to stay paused")
	}
	if state.CurrentIndex < 0 || state.CurrentIndex >= len(state.Queue) {
		t.Fatalf("expected index in range, got %d", state.CurrentIndex)
	}
	if state.Queue[state.CurrentIndex].ID != state.CurrentTrack.ID {
		t.Fatalf("expected index to resolve to the current track")
	}
}

func TestSetQueueEmptyClearsEverything(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)

	state := store.SetQueue(nil)
	if len(state.Queue) != 0 || state.CurrentTrack != nil || state.CurrentIndex != -1 {
		t.Fatalf("expected empty resting state, got %+v", state)
	}
	if state.IsPlaying {
		t.Fatalf("expected playback stopped")
	}
}

func TestAddToQueueIsIdempotent(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.SetQueue(tracksForTest("a"))
	store.AddToQueue(trackForTest("b"))
	state := store.AddToQueue(trackForTest("b"))

	if len(state.Queue) != 2 {
		t.Fatalf("expected duplicate add to be ignored, queue length %d", len(state.Queue))
	}
}

func TestRemoveFromQueueRelocatesCursor(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c"), 2)

	state := store.RemoveFromQueue("a")
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "c" {
		t.Fatalf("expected current track unchanged")
	}
	if state.CurrentIndex != 1 {
		t.Fatalf("expected index shifted down to 1, got %d", state.CurrentIndex)
	}
	if !state.IsPlaying {
		t.Fatalf("expected playback to continue")
	}
}

func TestRemoveCurrentTrackStopsPlayback(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)

	state := store.RemoveFromQueue("a")
	if state.CurrentTrack != nil || state.CurrentIndex != -1 {
		t.Fatalf("expected cursor cleared, got %+v", state)
	}
	if state.IsPlaying {
		t.Fatalf("expected playback stopped")
	}
	if len(state.Queue) != 1 {
		t.Fatalf("expected one track left, got %d", len(state.Queue))
	}
}

func TestPlayNextStopsAtEndWithoutLooping(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 1)
	store.ToggleLoop()

	state := store.PlayNext()
	if state.IsPlaying {
		t.Fatalf("expected boundary stop")
	}
	if state.CurrentIndex != 1 {
		t.Fatalf("expected index unchanged at boundary, got %d", state.CurrentIndex)
	}
	if state.CurrentTime != 0 {
		t.Fatalf("expected position reset at boundary stop")
	}
}

func TestPlayNextWrapsWhenLooping(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 1)

	state := store.PlayNext()
	if state.CurrentIndex != 0 {
		t.Fatalf("expected wraparound to index 0, got %d", state.CurrentIndex)
	}
	if !state.IsPlaying {
		t.Fatalf("expected playback to continue after wrap")
	}
}

func TestPlayPreviousBoundaries(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)

	state := store.PlayPrevious()
	if state.CurrentIndex != 1 {
		t.Fatalf("expected wraparound to last index, got %d", state.CurrentIndex)
	}

	store.ToggleLoop()
	store.PlayTrack(trackForTest("a"))

	state = store.PlayPrevious()
	if state.IsPlaying {
		t.Fatalf("expected boundary stop with looping off")
	}
	if state.CurrentIndex != 0 {
		t.Fatalf("expected index unchanged at boundary, got %d", state.CurrentIndex)
	}
}

func TestNextAndPreviousOnEmptyQueueAreNoOps(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	before := store.GetState()
	afterNext := store.PlayNext()
	afterPrevious := store.PlayPrevious()

	if afterNext.CurrentIndex != before.CurrentIndex || afterPrevious.CurrentIndex != before.CurrentIndex {
		t.Fatalf("expected no movement on an empty queue")
	}
	if afterNext.IsPlaying || afterPrevious.IsPlaying {
		t.Fatalf("expected empty queue to stay idle")
	}
}

func TestPlayNextFromClearedCursorStartsAtHead(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c"), 0)
	store.RemoveFromQueue("a")

	state := store.PlayNext()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected playback to restart at the queue head")
	}
	if state.CurrentIndex != 0 || !state.IsPlaying {
		t.Fatalf("expected head adopted playing, got %+v", state)
	}
}

func TestToggleShuffleBuildsPermutationExcludingCurrent(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c", "d"), 0)

	state := store.ToggleShuffle()
	if !state.IsShuffle {
		t.Fatalf("expected shuffle on")
	}
	if len(state.ShuffleOrder) != 3 {
		t.Fatalf("expected permutation of the 3 other tracks, got %d", len(state.ShuffleOrder))
	}
	for _, id := range state.ShuffleOrder {
		if id == "a" {
			t.Fatalf("permutation must not contain the current track")
		}
	}

	state = store.ToggleShuffle()
	if state.IsShuffle {
		t.Fatalf("expected shuffle off")
	}
	if len(state.ShuffleOrder) != 0 {
		t.Fatalf("expected permutation cleared when shuffle turns off")
	}
}

func TestShuffledAdvanceConsumesPermutationHead(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c", "d"), 0)
	state := store.ToggleShuffle()

	expected := state.ShuffleOrder[0]
	state = store.PlayNext()

	if state.CurrentTrack == nil || state.CurrentTrack.ID != expected {
		t.Fatalf("expected permutation head %q to play, got %+v", expected, state.CurrentTrack)
	}
	if state.Queue[state.CurrentIndex].ID != expected {
		t.Fatalf("expected index resolved against the unshuffled queue")
	}
	if len(state.ShuffleOrder) != 2 {
		t.Fatalf("expected head consumed, %d ids left", len(state.ShuffleOrder))
	}
}

func TestShuffledPreviousConsumesPermutationTail(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c", "d"), 0)
	state := store.ToggleShuffle()

	expected := state.ShuffleOrder[len(state.ShuffleOrder)-1]
	state = store.PlayPrevious()

	if state.CurrentTrack == nil || state.CurrentTrack.ID != expected {
		t.Fatalf("expected permutation tail %q to play, got %+v", expected, state.CurrentTrack)
	}
	if len(state.ShuffleOrder) != 2 {
		t.Fatalf("expected tail consumed, %d ids left", len(state.ShuffleOrder))
	}
}

func TestShuffledAdvanceRegeneratesWhenLooping(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)
	store.ToggleShuffle()

	state := store.PlayNext()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected the only other track to play")
	}

	state = store.PlayNext()
	if !state.IsPlaying {
		t.Fatalf("expected looping shuffle to keep playing")
	}
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "a" {
		t.Fatalf("expected regenerated permutation to resolve to the other track")
	}
}

func TestShuffledAdvanceStopsWhenExhaustedWithoutLooping(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)
	store.ToggleLoop()
	store.ToggleShuffle()

	store.PlayNext()
	state := store.PlayNext()
	if state.IsPlaying {
		t.Fatalf("expected exhausted permutation to stop playback")
	}
}

func TestPlayTrackConsumesItFromPermutation(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c"), 0)
	state := store.ToggleShuffle()

	jumped := state.ShuffleOrder[1]
	state = store.PlayTrack(trackForTest(jumped))

	if state.CurrentTrack == nil || state.CurrentTrack.ID != jumped {
		t.Fatalf("expected jump target to become current")
	}
	for _, id := range state.ShuffleOrder {
		if id == jumped {
			t.Fatalf("expected jump target consumed from the permutation")
		}
	}
	if len(state.ShuffleOrder) != 1 {
		t.Fatalf("expected one id left, got %d", len(state.ShuffleOrder))
	}
}

func TestVolumeClampAndMuteCoupling(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	state := store.SetVolume(1.7)
	if state.Volume != 1 {
		t.Fatalf("expected volume clamped to 1, got %v", state.Volume)
	}
	if state.IsMuted {
		t.Fatalf("raising volume must not touch mute")
	}

	state = store.SetVolume(-0.2)
	if state.Volume != 0 {
		t.Fatalf("expected volume clamped to 0, got %v", state.Volume)
	}
	if !state.IsMuted {
		t.Fatalf("expected zero volume to mute")
	}

	state = store.SetVolume(0.5)
	if !state.IsMuted {
		t.Fatalf("expected positive volume to leave mute untouched")
	}

	state = store.ToggleMute()
	if state.IsMuted {
		t.Fatalf("expected explicit unmute")
	}
}

func TestExplicitMuteSurvivesVolumeChange(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.SetVolume(0.6)
	state := store.ToggleMute()
	if !state.IsMuted || state.Volume != 0.6 {
		t.Fatalf("expected muted at volume 0.6, got %+v", state)
	}

	state = store.SetVolume(0.6)
	if !state.IsMuted {
		t.Fatalf("expected mute to survive a positive volume set")
	}
}

func TestSetAudioQualityRejectsUnknownValue(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	state := store.SetAudioQuality(track.QualityLow)
	if state.AudioQuality != track.QualityLow {
		t.Fatalf("expected quality low, got %q", state.AudioQuality)
	}

	state = store.SetAudioQuality(track.Quality("ultra"))
	if state.AudioQuality != track.QualityLow {
		t.Fatalf("expected invalid quality to be ignored, got %q", state.AudioQuality)
	}
}

func TestResolveSourceURIHonorsQualityPreference(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	item := track.Track{
		ID:    "tiered",
		Title: "Tiered",
		AudioSource: track.Source{Tiered: &track.TieredSource{
			Normal: "https://cdn.example.com/normal.mp3",
			High:   "https://cdn.example.com/high.mp3",
		}},
	}

	if uri := store.ResolveSourceURI(item); uri != "https://cdn.example.com/high.mp3" {
		t.Fatalf("expected high tier by default, got %q", uri)
	}

	store.SetAudioQuality(track.QualityLow)
	if uri := store.ResolveSourceURI(item); uri != "https://cdn.example.com/normal.mp3" {
		t.Fatalf("expected fallback to normal tier, got %q", uri)
	}
}

func TestPeekNextMatchesLinearAdvance(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c"), 1)

	next, ok := store.PeekNext()
	if !ok || next.ID != "c" {
		t.Fatalf("expected peek at c, got %+v ok=%v", next, ok)
	}

	state := store.PlayNext()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != next.ID {
		t.Fatalf("expected commit to match the peek")
	}
}

func TestPeekNextAtBoundary(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 1)

	next, ok := store.PeekNext()
	if !ok || next.ID != "a" {
		t.Fatalf("expected looping peek to wrap to a, got %+v ok=%v", next, ok)
	}

	store.ToggleLoop()
	if _, ok := store.PeekNext(); ok {
		t.Fatalf("expected no peek at a stop boundary")
	}
}

func TestPeekNextMatchesShuffledAdvance(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c", "d"), 0)
	store.ToggleShuffle()

	next, ok := store.PeekNext()
	if !ok {
		t.Fatalf("expected a shuffled peek")
	}

	state := store.PlayNext()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != next.ID {
		t.Fatalf("expected commit to match the peek")
	}
}

func TestSnapshotRestoredOnStartup(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b", "c"), 1)
	store.SetCurrentTime(42.5)
	store.ToggleShuffle()
	store.SetVolume(0.3)
	store.ToggleCrossfade()
	store.SetAudioQuality(track.QualityNormal)

	reloaded := NewStore(database, testLogger())
	state := reloaded.GetState()

	if len(state.Queue) != 3 {
		t.Fatalf("expected 3 queued tracks, got %d", len(state.Queue))
	}
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected current track restored, got %+v", state.CurrentTrack)
	}
	if state.CurrentIndex != 1 {
		t.Fatalf("expected index restored to 1, got %d", state.CurrentIndex)
	}
	if state.CurrentTime != 42.5 {
		t.Fatalf("expected position restored, got %v", state.CurrentTime)
	}
	if state.IsPlaying {
		t.Fatalf("resumed playback must start paused")
	}
	if !state.IsShuffle || len(state.ShuffleOrder) != 2 {
		t.Fatalf("expected shuffle restored with a fresh permutation")
	}
	if state.Volume != 0.3 {
		t.Fatalf("expected volume restored, got %v", state.Volume)
	}
	if !state.Crossfade {
		t.Fatalf("expected crossfade preference restored")
	}
	if state.AudioQuality != track.QualityNormal {
		t.Fatalf("expected quality restored, got %q", state.AudioQuality)
	}
	if !state.IsLooping {
		t.Fatalf("expected looping default to survive reload")
	}
}

func TestEmptyCursorRestoredOnStartup(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	store.PlayCollection(tracksForTest("a", "b"), 0)
	store.RemoveFromQueue("b")
	store.RemoveFromQueue("a")
	store.AddToQueue(trackForTest("c"))

	reloaded := NewStore(database, testLogger())
	state := reloaded.GetState()

	if state.CurrentTrack != nil || state.CurrentIndex != -1 {
		t.Fatalf("expected no current track after reload, got %+v", state)
	}
	if len(state.Queue) != 1 || state.Queue[0].ID != "c" {
		t.Fatalf("expected queue restored, got %+v", state.Queue)
	}
}

func TestSubscribersSeeEveryMutation(t *testing.T) {
	t.Parallel()

	store, database := newStoreForTest(t)
	defer database.Close()

	var seen []State
	unsubscribe := store.Subscribe(func(state State) {
		seen = append(seen, state)
	})

	store.SetQueue(tracksForTest("a", "b"))
	store.ToggleLoop()

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}

	unsubscribe()
	store.ToggleLoop()

	if len(seen) != 2 {
		t.Fatalf("expected no notifications after unsubscribe, got %d", len(seen))
	}
}

func newStoreForTest(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	databasePath := filepath.Join(t.TempDir(), "aria.db")
	database, err := db.Bootstrap(databasePath)
	if err != nil {
		t.Fatalf("bootstrap test database: %v", err)
	}

	return NewStore(database, testLogger()), database
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trackForTest(id string) track.Track {
	return track.Track{
		ID:              id,
		Title:           "Track " + id,
		Artist:          "Artist",
		DurationSeconds: 180,
		AudioSource:     track.SingleSource("https://cdn.example.com/" + id + ".mp3"),
	}
}

func tracksForTest(ids ...string) []track.Track {
	tracks := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, trackForTest(id))
	}

	return tracks
}
