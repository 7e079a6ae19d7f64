package transport

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"aria/internal/db"
	"aria/internal/player"
	"aria/internal/track"
)

func TestControllerMirrorsPlayAndPause(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	tracks := transportTracksForTest("a", "b")
	store.PlayCollection(tracks, 0)

	if got := element.currentSource(); got != sourceURIForTest("a") {
		t.Fatalf("expected track a loaded, got %q", got)
	}
	if !element.isPlaying() {
		t.Fatalf("expected element playing")
	}

	store.PauseTrack()
	if element.isPlaying() {
		t.Fatalf("expected element paused")
	}

	store.PlayTrack(tracks[0])
	if !element.isPlaying() {
		t.Fatalf("expected element resumed")
	}
}

func TestControllerMirrorsVolumeAndMute(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	store.PlayCollection(transportTracksForTest("a"), 0)

	store.SetVolume(0.4)
	if got := element.currentVolume(); got != 0.4 {
		t.Fatalf("expected gain 0.4, got %v", got)
	}

	store.ToggleMute()
	if !element.isMuted() {
		t.Fatalf("expected element muted")
	}
}

func TestControllerRestoresPersistedPosition(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	store.PlayCollection(transportTracksForTest("a"), 0)
	store.SetCurrentTime(42)

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	element.fireMetadata(180)

	if got := store.GetState().Duration; got != 180 {
		t.Fatalf("expected duration pushed into the store, got %v", got)
	}
	if seeks := element.recordedSeeks(); len(seeks) != 1 || seeks[0] != 42 {
		t.Fatalf("expected one seek to 42, got %v", seeks)
	}
}

func TestControllerSkipsSeekWithinDriftTolerance(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	store.PlayCollection(transportTracksForTest("a"), 0)
	store.SetCurrentTime(42)

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	element.setPosition(42.1)
	element.fireMetadata(180)

	if seeks := element.recordedSeeks(); len(seeks) != 0 {
		t.Fatalf("expected no seek within tolerance, got %v", seeks)
	}
}

func TestControllerProgressFlowsIntoStore(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	store.PlayCollection(transportTracksForTest("a"), 0)
	element.fireProgress(12.5)

	if got := store.GetState().CurrentTime; got != 12.5 {
		t.Fatalf("expected position 12.5 in the store, got %v", got)
	}
}

func TestControllerEndedAdvancesQueue(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	store.PlayCollection(transportTracksForTest("a", "b"), 0)
	element.fireEnded()

	state := store.GetState()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected advance to track b, got %+v", state.CurrentTrack)
	}
	if got := element.currentSource(); got != sourceURIForTest("b") {
		t.Fatalf("expected track b loaded, got %q", got)
	}
	if !element.isPlaying() {
		t.Fatalf("expected playback to continue")
	}
}

func TestControllerIgnoresStaleEnded(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	store.PlayCollection(transportTracksForTest("a", "b"), 0)

	element.overrideSource("https://cdn.example.com/swapped-out.mp3")
	element.fireEnded()

	state := store.GetState()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "a" {
		t.Fatalf("expected stale ended event to be ignored, got %+v", state.CurrentTrack)
	}
}

func TestControllerErrorSkipsTrack(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	var (
		mu       sync.Mutex
		messages []string
	)
	controller.SetEmitter(func(eventName string, payload any) {
		if eventName != player.EventPlaybackError {
			return
		}
		mu.Lock()
		messages = append(messages, payload.(string))
		mu.Unlock()
	})

	store.PlayCollection(transportTracksForTest("a", "b"), 0)
	element.fireError(errors.New("decode failed"))

	state := store.GetState()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != "b" {
		t.Fatalf("expected broken track skipped, got %+v", state.CurrentTrack)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 || !strings.Contains(messages[0], "Track a") {
		t.Fatalf("expected an error message naming the track, got %v", messages)
	}
}

func TestControllerStopsAfterWholeQueueFails(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	element.failSetSource(errors.New("device gone"))
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	store.PlayCollection(transportTracksForTest("a", "b"), 0)

	if store.GetState().IsPlaying {
		t.Fatalf("expected playback stopped after every track failed")
	}
}

func TestControllerPlayRejectionKeepsStoreIntent(t *testing.T) {
	t.Parallel()

	store, database := newTransportStoreForTest(t)
	defer database.Close()

	element := newFakeElement()
	element.failPlay(errors.New("autoplay blocked"))
	controller := NewController(store, element, testLogger())
	defer controller.Close()

	var (
		mu       sync.Mutex
		messages []string
	)
	controller.SetEmitter(func(eventName string, payload any) {
		if eventName != player.EventPlaybackError {
			return
		}
		mu.Lock()
		messages = append(messages, payload.(string))
		mu.Unlock()
	})

	store.PlayCollection(transportTracksForTest("a"), 0)

	if !store.GetState().IsPlaying {
		t.Fatalf("expected store intent to stay playing after a start rejection")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(messages) != 1 || !strings.Contains(messages[0], "Track a") {
		t.Fatalf("expected a start failure message, got %v", messages)
	}
}

// fakeElement is an in-memory media.Element for exercising controllers
// without an audio device. Lifecycle events are fired explicitly by tests.
type fakeElement struct {
	mu           sync.Mutex
	source       string
	playing      bool
	volume       float64
	muted        bool
	position     float64
	seeks        []float64
	playCalls    int
	playErr      error
	setSourceErr error

	onMetadata func(float64)
	onProgress func(float64)
	onEnded    func()
	onError    func(error)
}

func newFakeElement() *fakeElement {
	return &fakeElement{volume: 1}
}

func (f *fakeElement) SetSource(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setSourceErr != nil {
		return f.setSourceErr
	}

	f.source = uri
	f.position = 0
	f.playing = false
	return nil
}

func (f *fakeElement) ClearSource() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.source = ""
	f.position = 0
	f.playing = false
}

func (f *fakeElement) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *fakeElement) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.playCalls++
	if f.playErr != nil {
		return f.playErr
	}

	f.playing = true
	return nil
}

func (f *fakeElement) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.playing = false
	return nil
}

func (f *fakeElement) SeekSeconds(position float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seeks = append(f.seeks, position)
	f.position = position
	return nil
}

func (f *fakeElement) SetVolume(gain float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.volume = gain
	return nil
}

func (f *fakeElement) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.muted = muted
	return nil
}

func (f *fakeElement) PositionSeconds() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeElement) SetOnMetadata(callback func(float64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMetadata = callback
}

func (f *fakeElement) SetOnProgress(callback func(float64)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onProgress = callback
}

func (f *fakeElement) SetOnEnded(callback func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = callback
}

func (f *fakeElement) SetOnError(callback func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = callback
}

func (f *fakeElement) Close() error { return nil }

func (f *fakeElement) fireMetadata(durationSeconds float64) {
	f.mu.Lock()
	callback := f.onMetadata
	f.mu.Unlock()

	if callback != nil {
		callback(durationSeconds)
	}
}

func (f *fakeElement) fireProgress(positionSeconds float64) {
	f.mu.Lock()
	f.position = positionSeconds
	callback := f.onProgress
	f.mu.Unlock()

	if callback != nil {
		callback(positionSeconds)
	}
}

func (f *fakeElement) fireEnded() {
	f.mu.Lock()
	callback := f.onEnded
	f.mu.Unlock()

	if callback != nil {
		callback()
	}
}

func (f *fakeElement) fireError(err error) {
	f.mu.Lock()
	callback := f.onError
	f.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

func (f *fakeElement) currentSource() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *fakeElement) overrideSource(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = uri
}

func (f *fakeElement) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeElement) isMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeElement) currentVolume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakeElement) setPosition(positionSeconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = positionSeconds
}

func (f *fakeElement) recordedSeeks() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.seeks...)
}

func (f *fakeElement) recordedPlayCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playCalls
}

func (f *fakeElement) failSetSource(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setSourceErr = err
}

func (f *fakeElement) failPlay(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func newTransportStoreForTest(t *testing.T) (*player.Store, *sql.DB) {
	t.Helper()

	databasePath := filepath.Join(t.TempDir(), "aria.db")
	database, err := db.Bootstrap(databasePath)
	if err != nil {
		t.Fatalf("bootstrap test database: %v", err)
	}

	return player.NewStore(database, testLogger()), database
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sourceURIForTest(id string) string {
	return "https://cdn.example.com/" + id + ".mp3"
}

func transportTracksForTest(ids ...string) []track.Track {
	tracks := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, track.Track{
			ID:              id,
			Title:           "Track " + id,
			Artist:          "Artist",
			DurationSeconds: 30,
			AudioSource:     track.SingleSource(sourceURIForTest(id)),
		})
	}

	return tracks
}
