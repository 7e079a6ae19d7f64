// Package player holds the playback queue store: the single source of truth
// for what should be playing. Transport controllers and the UI mutate it
// only through the operations below and observe it through subscriptions.
package player

import (
	"database/sql"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"

	"aria/internal/shuffle"
	"aria/internal/track"
)

const (
	EventStateChanged  = "player:state"
	EventPlaybackError = "player:error"
)

type Emitter func(eventName string, payload any)

type Listener func(state State)

// State is an immutable snapshot of the store, safe to hand to subscribers.
type State struct {
	Queue        []track.Track `json:"queue"`
	CurrentTrack *track.Track  `json:"currentTrack,omitempty"`
	CurrentIndex int           `json:"currentIndex"`
	IsPlaying    bool          `json:"isPlaying"`
	CurrentTime  float64       `json:"currentTime"`
	Duration     float64       `json:"duration"`
	ShuffleOrder []string      `json:"shuffleOrder"`
	IsShuffle    bool          `json:"isShuffle"`
	IsLooping    bool          `json:"isLooping"`
	Volume       float64       `json:"volume"`
	IsMuted      bool          `json:"isMuted"`
	AudioQuality track.Quality `json:"audioQuality"`
	Crossfade    bool          `json:"crossfade"`
	UpdatedAt    string        `json:"updatedAt"`
}

type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
	rng *rand.Rand

	queue        []track.Track
	current      *track.Track
	currentIndex int
	isPlaying    bool
	currentTime  float64
	duration     float64
	shuffleOrder []string
	isShuffle    bool
	isLooping    bool
	volume       float64
	isMuted      bool
	audioQuality track.Quality
	crossfade    bool
	updatedAt    time.Time

	emit           Emitter
	listeners      map[int]Listener
	nextListenerID int
}

// NewStore builds the store and rehydrates the persisted playback and
// preference slots. Resumed playback always starts paused.
func NewStore(database *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	store := &Store{
		db:           database,
		log:          logger,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		currentIndex: -1,
		isLooping:    true,
		volume:       1,
		audioQuality: track.QualityHigh,
		listeners:    map[int]Listener{},
	}

	store.loadSnapshot()
	return store
}

func (s *Store) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

// Subscribe registers a listener called after every state change. The
// returned function removes the listener.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// PlayTrack starts playing a track already present in the queue. Playing the
// track that is already current toggles play/pause without resetting the
// position. A track missing from the queue is a caller bug: the call is
// logged and dropped.
func (s *Store) PlayTrack(item track.Track) State {
	s.mu.Lock()

	if s.current != nil && s.current.ID == item.ID {
		s.isPlaying = !s.isPlaying
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.finish(state, false, false)
		return state
	}

	index := s.indexOfLocked(item.ID)
	if index == -1 {
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.log.Warn("play request for track not in queue", "trackId", item.ID, "title", item.Title)
		return state
	}

	selected := s.queue[index]
	s.current = &selected
	s.currentIndex = index
	s.isPlaying = true
	s.currentTime = 0

	if s.isShuffle {
		// Jumping to a track consumes it from the permutation; if it was
		// already consumed, start a fresh session around it.
		remaining := lo.Filter(s.shuffleOrder, func(id string, _ int) bool {
			return id != item.ID
		})
		if len(remaining) == len(s.shuffleOrder) {
			remaining = shuffle.Build(s.queue, item.ID, s.rng)
		}
		s.shuffleOrder = remaining
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

func (s *Store) PauseTrack() State {
	s.mu.Lock()
	s.isPlaying = false
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, false)
	return state
}

// PlayCollection replaces the queue with the given tracks and starts playing
// at startIndex (clamped). An empty collection is a no-op.
func (s *Store) PlayCollection(tracks []track.Track, startIndex int) State {
	s.mu.Lock()

	if len(tracks) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	if startIndex < 0 {
		startIndex = 0
	}
	if startIndex > len(tracks)-1 {
		startIndex = len(tracks) - 1
	}

	s.queue = append([]track.Track(nil), tracks...)
	selected := s.queue[startIndex]
	s.current = &selected
	s.currentIndex = startIndex
	s.isPlaying = true
	s.currentTime = 0
	s.duration = 0

	if s.isShuffle {
		s.shuffleOrder = shuffle.Build(s.queue, selected.ID, s.rng)
	} else {
		s.shuffleOrder = nil
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

// SetQueue replaces the queue contents while keeping the current track's
// position when it survives the swap. When it does not, the first track of
// the new queue becomes current, paused. When there was no current track at
// all, a random track is seeded as current, paused.
func (s *Store) SetQueue(tracks []track.Track) State {
	s.mu.Lock()

	if len(tracks) == 0 {
		s.queue = nil
		s.current = nil
		s.currentIndex = -1
		s.isPlaying = false
		s.currentTime = 0
		s.duration = 0
		s.shuffleOrder = nil

		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.finish(state, true, false)
		return state
	}

	s.queue = append([]track.Track(nil), tracks...)

	switch {
	case s.current != nil:
		if index := s.indexOfLocked(s.current.ID); index != -1 {
			s.currentIndex = index
		} else {
			selected := s.queue[0]
			s.current = &selected
			s.currentIndex = 0
			s.isPlaying = false
			s.currentTime = 0
		}
	default:
		index := s.rng.Intn(len(s.queue))
		selected := s.queue[index]
		s.current = &selected
		s.currentIndex = index
		s.isPlaying = false
		s.currentTime = 0
	}

	if s.isShuffle {
		s.shuffleOrder = shuffle.Build(s.queue, s.current.ID, s.rng)
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

// AddToQueue appends a track; adding a track that is already queued is a
// no-op.
func (s *Store) AddToQueue(item track.Track) State {
	s.mu.Lock()

	if s.indexOfLocked(item.ID) != -1 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	s.queue = append(s.queue, item)
	if s.isShuffle {
		excludeID := ""
		if s.current != nil {
			excludeID = s.current.ID
		}
		s.shuffleOrder = shuffle.Build(s.queue, excludeID, s.rng)
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

// RemoveFromQueue removes a track by id. Removing the current track clears
// the cursor and stops playback.
func (s *Store) RemoveFromQueue(id string) State {
	s.mu.Lock()

	s.queue = lo.Filter(s.queue, func(item track.Track, _ int) bool {
		return item.ID != id
	})

	if s.current != nil && s.current.ID == id {
		s.current = nil
		s.currentIndex = -1
		s.isPlaying = false
		s.currentTime = 0
	} else if s.current != nil {
		s.currentIndex = s.indexOfLocked(s.current.ID)
	}

	if s.isShuffle {
		excludeID := ""
		if s.current != nil {
			excludeID = s.current.ID
		}
		s.shuffleOrder = shuffle.Build(s.queue, excludeID, s.rng)
	} else {
		s.shuffleOrder = nil
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

func (s *Store) ClearQueue() State {
	s.mu.Lock()
	s.queue = nil
	s.current = nil
	s.currentIndex = -1
	s.isPlaying = false
	s.currentTime = 0
	s.duration = 0
	s.shuffleOrder = nil
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

// PlayNext advances the cursor: linearly with optional wraparound, or by
// consuming the head of the shuffle permutation. At a boundary with looping
// off it stops playback instead of moving.
func (s *Store) PlayNext() State {
	s.mu.Lock()

	if len(s.queue) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	if s.currentIndex == -1 {
		s.adoptTrackLocked(0)
		if s.isShuffle {
			s.shuffleOrder = shuffle.Build(s.queue, s.queue[0].ID, s.rng)
		}
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.finish(state, true, false)
		return state
	}

	if s.isShuffle {
		state := s.advanceShuffledLocked(false)
		s.mu.Unlock()

		s.finish(state, true, false)
		return state
	}

	atEnd := s.currentIndex == len(s.queue)-1
	if atEnd && !s.isLooping {
		s.isPlaying = false
		s.currentTime = 0
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.finish(state, true, false)
		return state
	}

	nextIndex := s.currentIndex + 1
	if atEnd {
		nextIndex = 0
	}
	s.adoptTrackLocked(nextIndex)

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

// PlayPrevious retreats the cursor, consuming the shuffle permutation from
// its tail so forward and backward traversal stay symmetric.
func (s *Store) PlayPrevious() State {
	s.mu.Lock()

	if len(s.queue) == 0 || s.currentIndex == -1 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	if s.isShuffle {
		state := s.advanceShuffledLocked(true)
		s.mu.Unlock()

		s.finish(state, true, false)
		return state
	}

	atStart := s.currentIndex == 0
	if atStart && !s.isLooping {
		s.isPlaying = false
		s.currentTime = 0
		s.touchLocked()
		state := s.snapshotLocked()
		s.mu.Unlock()

		s.finish(state, true, false)
		return state
	}

	prevIndex := s.currentIndex - 1
	if atStart {
		prevIndex = len(s.queue) - 1
	}
	s.adoptTrackLocked(prevIndex)

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, true, false)
	return state
}

// PeekNext resolves the track PlayNext would move to, without committing.
// Used by the crossfade controller to preload the upcoming track. Returns
// false at a stop boundary, and also while an exhausted shuffle permutation
// awaits regeneration, so a preload never guesses at a permutation that
// does not exist yet.
func (s *Store) PeekNext() (track.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return track.Track{}, false
	}

	if s.currentIndex == -1 {
		return s.queue[0], true
	}

	if s.isShuffle {
		if len(s.shuffleOrder) == 0 {
			return track.Track{}, false
		}
		index := s.indexOfLocked(s.shuffleOrder[0])
		if index == -1 {
			return track.Track{}, false
		}
		return s.queue[index], true
	}

	if s.currentIndex == len(s.queue)-1 {
		if !s.isLooping {
			return track.Track{}, false
		}
		return s.queue[0], true
	}

	return s.queue[s.currentIndex+1], true
}

func (s *Store) ToggleShuffle() State {
	s.mu.Lock()
	s.isShuffle = !s.isShuffle
	if s.isShuffle {
		excludeID := ""
		if s.current != nil {
			excludeID = s.current.ID
		}
		s.shuffleOrder = shuffle.Build(s.queue, excludeID, s.rng)
	} else {
		s.shuffleOrder = nil
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, true)
	return state
}

func (s *Store) ToggleLoop() State {
	s.mu.Lock()
	s.isLooping = !s.isLooping
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, true)
	return state
}

// SetVolume clamps into [0,1]. Dragging the volume to zero mutes; raising it
// again does not unmute on its own.
func (s *Store) SetVolume(volume float64) State {
	if math.IsNaN(volume) || volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	s.mu.Lock()
	s.volume = volume
	if volume <= 0 {
		s.isMuted = true
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, true)
	return state
}

func (s *Store) ToggleMute() State {
	s.mu.Lock()
	s.isMuted = !s.isMuted
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, true)
	return state
}

// SetCurrentTime records the live transport position, normally pushed in by
// a transport controller from element time-progress events.
func (s *Store) SetCurrentTime(seconds float64) State {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}

	s.mu.Lock()
	s.currentTime = seconds
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.persistPosition(state)
	s.notify(state)
	return state
}

func (s *Store) SetDuration(seconds float64) State {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}

	s.mu.Lock()
	s.duration = seconds
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, false)
	return state
}

func (s *Store) SetAudioQuality(quality track.Quality) State {
	normalized, err := track.NormalizeQuality(string(quality))
	if err != nil {
		s.log.Warn("ignoring invalid audio quality", "quality", quality)
		return s.GetState()
	}

	s.mu.Lock()
	s.audioQuality = normalized
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, true)
	return state
}

func (s *Store) ToggleCrossfade() State {
	s.mu.Lock()
	s.crossfade = !s.crossfade
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.finish(state, false, true)
	return state
}

// ResolveSourceURI picks the playable URI for a track under the active
// quality preference.
func (s *Store) ResolveSourceURI(item track.Track) string {
	s.mu.Lock()
	quality := s.audioQuality
	s.mu.Unlock()

	return item.AudioSource.Resolve(quality)
}

func (s *Store) advanceShuffledLocked(backwards bool) State {
	next, ok := s.popShuffleLocked(backwards)
	if !ok {
		s.isPlaying = false
		s.currentTime = 0
		s.touchLocked()
		return s.snapshotLocked()
	}

	index := s.indexOfLocked(next)
	if index == -1 {
		// Stale id left over from a queue swap; drop it and stop here.
		s.isPlaying = false
		s.currentTime = 0
		s.touchLocked()
		return s.snapshotLocked()
	}

	s.adoptTrackLocked(index)
	s.touchLocked()
	return s.snapshotLocked()
}

func (s *Store) popShuffleLocked(backwards bool) (string, bool) {
	if len(s.shuffleOrder) == 0 {
		if !s.isLooping {
			return "", false
		}
		excludeID := ""
		if s.current != nil {
			excludeID = s.current.ID
		}
		s.shuffleOrder = shuffle.Build(s.queue, excludeID, s.rng)
		if len(s.shuffleOrder) == 0 {
			return "", false
		}
	}

	if backwards {
		last := len(s.shuffleOrder) - 1
		id := s.shuffleOrder[last]
		s.shuffleOrder = s.shuffleOrder[:last]
		return id, true
	}

	id := s.shuffleOrder[0]
	s.shuffleOrder = s.shuffleOrder[1:]
	return id, true
}

func (s *Store) adoptTrackLocked(index int) {
	selected := s.queue[index]
	s.current = &selected
	s.currentIndex = index
	s.isPlaying = true
	s.currentTime = 0
}

func (s *Store) indexOfLocked(id string) int {
	for i, item := range s.queue {
		if item.ID == id {
			return i
		}
	}

	return -1
}

func (s *Store) snapshotLocked() State {
	queue := make([]track.Track, len(s.queue))
	copy(queue, s.queue)

	order := make([]string, len(s.shuffleOrder))
	copy(order, s.shuffleOrder)

	state := State{
		Queue:        queue,
		CurrentIndex: s.currentIndex,
		IsPlaying:    s.isPlaying,
		CurrentTime:  s.currentTime,
		Duration:     s.duration,
		ShuffleOrder: order,
		IsShuffle:    s.isShuffle,
		IsLooping:    s.isLooping,
		Volume:       s.volume,
		IsMuted:      s.isMuted,
		AudioQuality: s.audioQuality,
		Crossfade:    s.crossfade,
	}

	if s.current != nil {
		current := *s.current
		state.CurrentTrack = &current
	}

	if !s.updatedAt.IsZero() {
		state.UpdatedAt = s.updatedAt.UTC().Format(time.RFC3339)
	}

	return state
}

func (s *Store) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func (s *Store) finish(state State, persistPlayback bool, persistPrefs bool) {
	if persistPlayback {
		s.persistPlayback(state)
	}
	if persistPrefs {
		s.persistPrefs(state)
	}

	s.notify(state)
}

func (s *Store) notify(state State) {
	s.mu.Lock()
	emitter := s.emit
	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventStateChanged, state)
	}
	for _, listener := range listeners {
		listener(state)
	}
}
