package transport

import (
	"log/slog"
	"sync"

	"aria/internal/media"
	"aria/internal/player"
)

// Crossfade timing, in seconds of remaining playback. The upcoming track is
// preloaded and started silently at the preload lead, gains ramp across the
// fade window, and the queue transition commits at the completion lead.
const (
	preloadLeadSeconds    = 3.0
	fadeWindowSeconds     = 2.0
	completionLeadSeconds = 0.1

	// Position reports carry float noise; duration minus position can land a
	// hair above the lead it conceptually equals.
	timeEpsilonSeconds = 1e-9
)

// CrossfadeController layers track-to-track blending on top of a base
// Controller. It owns a second media element that shadows the upcoming
// track; at fade completion the elements trade places via SwapElement so
// the new track keeps playing without a reload.
//
// When crossfade is disabled it does nothing and playback advances through
// the base controller's ended handling.
type CrossfadeController struct {
	store *player.Store
	base  *Controller
	log   *slog.Logger

	mu              sync.Mutex
	secondary       media.Element
	nextID          string
	nextURI         string
	secondaryLive   bool
	fading          bool
	currentID       string
	abortedURI      string
	pendingDuration float64

	unsubscribe func()
	closeOnce   sync.Once
}

func NewCrossfadeController(store *player.Store, base *Controller, secondary media.Element, logger *slog.Logger) *CrossfadeController {
	if logger == nil {
		logger = slog.Default()
	}

	controller := &CrossfadeController{
		store:     store,
		base:      base,
		log:       logger,
		secondary: secondary,
	}

	controller.unsubscribe = store.Subscribe(func(player.State) {
		controller.refresh()
	})

	return controller
}

func (x *CrossfadeController) Close() error {
	x.closeOnce.Do(func() {
		if x.unsubscribe != nil {
			x.unsubscribe()
		}

		x.mu.Lock()
		secondary := x.secondary
		x.mu.Unlock()

		_ = secondary.Close()
		_ = x.base.Close()
	})

	return nil
}

// refresh re-reads the store on every notification; see Controller.refresh.
func (x *CrossfadeController) refresh() {
	state := x.store.GetState()

	trackID := ""
	if state.CurrentTrack != nil {
		trackID = state.CurrentTrack.ID
	}

	x.mu.Lock()
	if trackID != x.currentID {
		// A track transition we did not commit ourselves. Any in-flight
		// preload belongs to the old timeline.
		x.currentID = trackID
		x.abortedURI = ""
		x.clearLocked()
	}

	engaged := x.nextURI != "" || x.fading
	active := state.Crossfade && state.CurrentTrack != nil && state.IsPlaying && state.Duration > 0

	if !active {
		x.clearLocked()
		x.mu.Unlock()

		if engaged {
			x.base.SetGainScale(1)
		}
		return
	}

	remaining := state.Duration - state.CurrentTime
	if remaining > preloadLeadSeconds {
		x.clearLocked()
		x.mu.Unlock()

		if engaged {
			x.base.SetGainScale(1)
		}
		return
	}

	next, ok := x.store.PeekNext()
	if !ok {
		x.clearLocked()
		x.mu.Unlock()

		if engaged {
			x.base.SetGainScale(1)
		}
		return
	}

	uri := x.store.ResolveSourceURI(next)
	if x.nextURI != "" && (x.nextID != next.ID || x.nextURI != uri) {
		// The upcoming track changed under us (queue edit, shuffle toggle,
		// quality switch). Restart the preload against the new target.
		x.clearLocked()
		if engaged {
			defer x.base.SetGainScale(1)
		}
	}

	if x.nextURI == "" && uri == x.abortedURI {
		// A failed start is not retried; the ended event on the primary
		// element advances the queue instead.
		x.mu.Unlock()
		return
	}

	needLoad := x.nextURI == ""
	if needLoad {
		x.nextID = next.ID
		x.nextURI = uri
		x.pendingDuration = 0
	}
	startFade := x.secondaryLive && !x.fading && remaining <= fadeWindowSeconds
	if startFade {
		x.fading = true
	}
	fading := x.fading
	commit := x.fading && x.secondaryLive && remaining <= completionLeadSeconds+timeEpsilonSeconds
	secondary := x.secondary
	x.mu.Unlock()

	if needLoad {
		if !x.preload(secondary, next.ID, uri, state) {
			return
		}
	}

	if fading {
		fraction := (fadeWindowSeconds - remaining) / fadeWindowSeconds
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}

		x.base.SetGainScale(1 - fraction)
		if err := secondary.SetVolume(state.Volume * fraction); err != nil {
			x.log.Warn("failed to ramp crossfade volume", "error", err)
		}
		if err := secondary.SetMuted(state.IsMuted); err != nil {
			x.log.Warn("failed to mirror mute onto crossfade element", "error", err)
		}
	}

	if commit {
		x.commit(next.ID, uri, state)
	}
}

// preload loads the upcoming track into the secondary element and starts it
// at volume zero. Any failure silently abandons the crossfade; the ended
// event on the primary element still advances the queue.
func (x *CrossfadeController) preload(secondary media.Element, trackID string, uri string, state player.State) bool {
	secondary.SetOnMetadata(func(durationSeconds float64) {
		x.mu.Lock()
		if x.nextURI == uri {
			x.pendingDuration = durationSeconds
		}
		x.mu.Unlock()
	})
	secondary.SetOnError(func(err error) {
		x.log.Warn("crossfade preload failed", "trackId", trackID, "error", err)
		x.abandon(uri)
	})
	secondary.SetOnProgress(nil)
	secondary.SetOnEnded(nil)

	if err := secondary.SetSource(uri); err != nil {
		x.log.Warn("crossfade preload failed", "trackId", trackID, "error", err)
		x.abandon(uri)
		return false
	}
	if err := secondary.SetVolume(0); err != nil {
		x.log.Warn("failed to silence crossfade element", "error", err)
	}
	if err := secondary.SetMuted(state.IsMuted); err != nil {
		x.log.Warn("failed to mirror mute onto crossfade element", "error", err)
	}
	if err := secondary.Play(); err != nil {
		x.log.Warn("crossfade start rejected, falling back to plain advance", "trackId", trackID, "error", err)
		x.abandon(uri)
		return false
	}

	x.mu.Lock()
	live := x.nextURI == uri
	if live {
		x.secondaryLive = true
	}
	x.mu.Unlock()

	return live
}

// commit trades the elements and advances the queue. The base controller
// adopts the secondary element (already playing the committed track at full
// ramp), and the demoted primary becomes the next preload target.
func (x *CrossfadeController) commit(trackID string, uri string, state player.State) {
	x.mu.Lock()
	secondary := x.secondary
	duration := x.pendingDuration
	x.nextID = ""
	x.nextURI = ""
	x.secondaryLive = false
	x.fading = false
	x.pendingDuration = 0
	x.currentID = trackID
	x.mu.Unlock()

	if err := secondary.SetVolume(state.Volume); err != nil {
		x.log.Warn("failed to restore volume after crossfade", "error", err)
	}

	demoted := x.base.SwapElement(secondary, uri, trackID)
	demoted.ClearSource()

	x.mu.Lock()
	x.secondary = demoted
	x.mu.Unlock()

	x.store.PlayNext()
	if duration > 0 {
		x.store.SetDuration(duration)
	}
}

func (x *CrossfadeController) abandon(uri string) {
	x.mu.Lock()
	x.clearLocked()
	x.abortedURI = uri
	x.mu.Unlock()

	x.base.SetGainScale(1)
}

func (x *CrossfadeController) clearLocked() {
	if x.secondary != nil && x.nextURI != "" {
		x.secondary.ClearSource()
	}
	x.nextID = ""
	x.nextURI = ""
	x.secondaryLive = false
	x.fading = false
	x.pendingDuration = 0
}
