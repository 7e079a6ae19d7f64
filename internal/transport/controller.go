// Package transport binds the playback queue store to audio output. A
// controller subscribes to store state, mirrors intent (source, play/pause,
// gain) onto a media element, and feeds the element's lifecycle events
// (metadata, progress, ended, error) back into the store.
package transport

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"aria/internal/media"
	"aria/internal/player"
	"aria/internal/track"
)

// Seeks within this distance of the target are skipped when restoring a
// persisted position.
const resumeDriftSeconds = 0.25

// Controller drives a single media element from store state. It never
// mutates the store except in reaction to element events: ended advances the
// queue, a decode error skips the failing track.
type Controller struct {
	store *player.Store
	log   *slog.Logger

	mu        sync.Mutex
	element   media.Element
	loadedURI string
	loadedID  string
	playing    bool
	resumeAt   float64
	gainScale  float64
	failures   int
	skipMirror bool
	emit      player.Emitter

	unsubscribe func()
	closeOnce   sync.Once
}

func NewController(store *player.Store, element media.Element, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	controller := &Controller{
		store:     store,
		log:       logger,
		element:   element,
		gainScale: 1,
	}

	bindElement(element, controller)
	controller.unsubscribe = store.Subscribe(func(player.State) {
		controller.refresh()
	})
	controller.refresh()

	return controller
}

// SetEmitter routes user-visible playback errors to the UI.
func (c *Controller) SetEmitter(emitter player.Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit = emitter
}

func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}

		c.mu.Lock()
		element := c.element
		c.mu.Unlock()

		unbindElement(element)
		_ = element.Close()
	})

	return nil
}

// SetGainScale scales the element's output gain below the user volume.
// The crossfade controller drives this during the fade window; 1 means the
// user volume applies unmodified.
func (c *Controller) SetGainScale(scale float64) {
	if math.IsNaN(scale) || scale < 0 {
		scale = 0
	}
	if scale > 1 {
		scale = 1
	}

	c.mu.Lock()
	c.gainScale = scale
	element := c.element
	c.mu.Unlock()

	state := c.store.GetState()
	if err := element.SetVolume(state.Volume * scale); err != nil {
		c.log.Warn("failed to set output gain", "error", err)
	}
}

// SwapElement promotes an already-loaded element to be this controller's
// output, returning the demoted one. The crossfade controller calls this at
// fade completion so the committed track keeps playing seamlessly.
func (c *Controller) SwapElement(next media.Element, uri string, trackID string) media.Element {
	c.mu.Lock()
	demoted := c.element
	c.element = next
	c.loadedURI = uri
	c.loadedID = trackID
	c.resumeAt = 0
	c.playing = true
	c.gainScale = 1
	// The adopted element is mid-track while the store position reads zero;
	// hold off position mirroring until it reports in.
	c.skipMirror = true
	c.mu.Unlock()

	unbindElement(demoted)
	bindElement(next, c)

	return demoted
}

// refresh reconciles the element against the store's current state. The
// snapshot delivered with a notification may already be superseded when
// another listener mutates the store first, so the current state is always
// re-read.
func (c *Controller) refresh() {
	state := c.store.GetState()

	c.mu.Lock()
	element := c.element

	if state.CurrentTrack == nil {
		hadSource := c.loadedURI != ""
		c.loadedURI = ""
		c.loadedID = ""
		c.playing = false
		c.resumeAt = 0
		c.mu.Unlock()

		if hadSource {
			element.ClearSource()
		}
		return
	}

	item := *state.CurrentTrack
	uri := c.store.ResolveSourceURI(item)

	reload := uri != c.loadedURI
	if reload {
		c.loadedURI = uri
		c.loadedID = item.ID
		c.resumeAt = state.CurrentTime
	}

	gain := state.Volume * c.gainScale
	wasPlaying := c.playing
	c.playing = state.IsPlaying
	mirrorPosition := !reload && !c.skipMirror && c.resumeAt == 0
	c.mu.Unlock()

	if reload {
		if err := element.SetSource(uri); err != nil {
			c.skipAfterFailure(item, len(state.Queue), err)
			return
		}
	}

	if err := element.SetVolume(gain); err != nil {
		c.log.Warn("failed to set volume", "error", err)
	}
	if err := element.SetMuted(state.IsMuted); err != nil {
		c.log.Warn("failed to set mute", "error", err)
	}

	// Mirror store-side seeks (the UI writes the position into the store)
	// onto the element, within the same drift tolerance as resume.
	if mirrorPosition {
		if position, posErr := element.PositionSeconds(); posErr == nil && math.Abs(position-state.CurrentTime) > resumeDriftSeconds {
			if seekErr := element.SeekSeconds(state.CurrentTime); seekErr != nil {
				c.log.Warn("failed to seek", "position", state.CurrentTime, "error", seekErr)
			}
		}
	}

	switch {
	case state.IsPlaying && (reload || !wasPlaying):
		if err := element.Play(); err != nil {
			// Start rejection is non-fatal: the store keeps isPlaying as the
			// user intended and the UI shows the failure.
			c.log.Warn("playback start rejected", "trackId", item.ID, "error", err)
			c.notifyError(fmt.Sprintf("Couldn't start playback of %s.", item.Title))
		}
	case !state.IsPlaying && (reload || wasPlaying):
		if err := element.Pause(); err != nil {
			c.log.Warn("failed to pause", "error", err)
		}
	}
}

func (c *Controller) handleMetadata(durationSeconds float64) {
	c.mu.Lock()
	resumeAt := c.resumeAt
	c.resumeAt = 0
	c.failures = 0
	element := c.element
	c.mu.Unlock()

	c.store.SetDuration(durationSeconds)

	if resumeAt <= 0 {
		return
	}

	position, err := element.PositionSeconds()
	if err != nil || math.Abs(position-resumeAt) > resumeDriftSeconds {
		if err := element.SeekSeconds(resumeAt); err != nil {
			c.log.Warn("failed to restore position", "position", resumeAt, "error", err)
		}
	}
}

func (c *Controller) handleProgress(positionSeconds float64) {
	c.mu.Lock()
	c.skipMirror = false
	c.mu.Unlock()

	c.store.SetCurrentTime(positionSeconds)
}

// handleEnded advances the queue, unless the event is a straggler from a
// source that has already been swapped out.
func (c *Controller) handleEnded(element media.Element) {
	c.mu.Lock()
	stale := element != c.element || c.loadedURI == "" || element.Source() != c.loadedURI
	if !stale {
		c.playing = false
	}
	c.mu.Unlock()

	if stale {
		return
	}

	c.store.PlayNext()
}

func (c *Controller) handleError(element media.Element, cause error) {
	c.mu.Lock()
	stale := element != c.element || c.loadedURI == "" || element.Source() != c.loadedURI
	trackID := c.loadedID
	c.mu.Unlock()

	if stale {
		return
	}

	state := c.store.GetState()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != trackID {
		return
	}

	c.skipAfterFailure(*state.CurrentTrack, len(state.Queue), cause)
}

// skipAfterFailure reports a track-fatal failure and moves on. A run of
// failures spanning the whole queue stops playback instead of cycling
// through broken sources forever.
func (c *Controller) skipAfterFailure(item track.Track, queueLength int, cause error) {
	// The failing URI stays marked as loaded so a pause after exhaustion does
	// not trigger another load attempt of the same broken source.
	c.mu.Lock()
	c.failures++
	exhausted := queueLength > 0 && c.failures >= queueLength
	c.playing = false
	c.mu.Unlock()

	c.log.Warn("failed to play track", "trackId", item.ID, "title", item.Title, "error", cause)
	c.notifyError(fmt.Sprintf("Error loading %s. Skipping...", item.Title))

	if exhausted {
		c.log.Warn("every queued track failed to play, stopping")
		c.store.PauseTrack()
		return
	}

	c.store.PlayNext()
}

func (c *Controller) notifyError(message string) {
	c.mu.Lock()
	emitter := c.emit
	c.mu.Unlock()

	if emitter == nil {
		return
	}

	emitter(player.EventPlaybackError, message)
}

func bindElement(element media.Element, c *Controller) {
	element.SetOnMetadata(c.handleMetadata)
	element.SetOnProgress(c.handleProgress)
	element.SetOnEnded(func() { c.handleEnded(element) })
	element.SetOnError(func(err error) { c.handleError(element, err) })
}

func unbindElement(element media.Element) {
	element.SetOnMetadata(nil)
	element.SetOnProgress(nil)
	element.SetOnEnded(nil)
	element.SetOnError(nil)
}
