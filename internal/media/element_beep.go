//go:build beep && !libmpv

package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

// beepElement renders MP3 sources through the shared beep speaker. Each
// element mixes independently, so two of them can overlap for crossfades.
// Sources are fetched fully into memory before decoding, which keeps the
// whole stream seekable.

const beepSampleRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(beepSampleRate, beepSampleRate.N(time.Second/10))
	})

	return speakerErr
}

type beepElement struct {
	mu         sync.Mutex
	source     string
	generation int
	streamer   beep.StreamSeekCloser
	format     beep.Format
	gain       *gainStreamer
	ctrl       *beep.Ctrl
	started    bool
	playing    bool

	onMetadata func(durationSeconds float64)
	onProgress func(positionSeconds float64)
	onEnded    func()
	onError    func(err error)

	stopTicker chan struct{}
	closeOnce  sync.Once
}

func NewElement() (Element, error) {
	if err := initSpeaker(); err != nil {
		return nil, fmt.Errorf("initialize speaker: %w", err)
	}

	element := &beepElement{
		stopTicker: make(chan struct{}),
	}
	go element.progressLoop()

	return element, nil
}

func (e *beepElement) SetSource(uri string) error {
	data, err := fetchSource(uri)
	if err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(nopCloser{bytes.NewReader(data)})
	if err != nil {
		return fmt.Errorf("decode %q: %w", uri, err)
	}

	e.mu.Lock()
	e.detachLocked()
	e.generation++
	e.source = uri
	e.streamer = streamer
	e.format = format
	e.gain = &gainStreamer{
		streamer: beep.Resample(4, format.SampleRate, beepSampleRate, streamer),
		gain:     1,
	}
	e.ctrl = &beep.Ctrl{Streamer: e.gain, Paused: true}
	e.started = false
	e.playing = false
	duration := format.SampleRate.D(streamer.Len()).Seconds()
	onMetadata := e.onMetadata
	e.mu.Unlock()

	if onMetadata != nil {
		go onMetadata(duration)
	}

	return nil
}

func (e *beepElement) ClearSource() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detachLocked()
	e.generation++
	e.source = ""
}

func (e *beepElement) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.source
}

func (e *beepElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return errors.New("no source loaded")
	}

	if !e.started {
		e.started = true
		generation := e.generation
		speaker.Lock()
		e.ctrl.Paused = false
		speaker.Unlock()
		speaker.Play(beep.Seq(e.ctrl, beep.Callback(func() {
			e.finished(generation)
		})))
	} else {
		speaker.Lock()
		e.ctrl.Paused = false
		speaker.Unlock()
	}

	e.playing = true
	return nil
}

func (e *beepElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return nil
	}

	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.playing = false
	return nil
}

func (e *beepElement) SeekSeconds(position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.streamer == nil {
		return nil
	}

	speaker.Lock()
	defer speaker.Unlock()

	if err := e.streamer.Seek(e.format.SampleRate.N(secondsToDuration(position))); err != nil {
		return fmt.Errorf("seek to %.2fs: %w", position, err)
	}

	return nil
}

func (e *beepElement) SetVolume(gain float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gain == nil {
		return nil
	}

	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}

	speaker.Lock()
	e.gain.gain = gain
	speaker.Unlock()
	return nil
}

func (e *beepElement) SetMuted(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gain == nil {
		return nil
	}

	speaker.Lock()
	e.gain.muted = muted
	speaker.Unlock()
	return nil
}

func (e *beepElement) PositionSeconds() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.positionLocked(), nil
}

func (e *beepElement) SetOnMetadata(callback func(durationSeconds float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMetadata = callback
}

func (e *beepElement) SetOnProgress(callback func(positionSeconds float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = callback
}

func (e *beepElement) SetOnEnded(callback func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = callback
}

func (e *beepElement) SetOnError(callback func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = callback
}

func (e *beepElement) Close() error {
	e.closeOnce.Do(func() {
		close(e.stopTicker)
		e.mu.Lock()
		e.detachLocked()
		e.mu.Unlock()
	})

	return nil
}

func (e *beepElement) finished(generation int) {
	e.mu.Lock()
	stale := generation != e.generation
	onEnded := e.onEnded
	e.playing = false
	e.mu.Unlock()

	if stale || onEnded == nil {
		return
	}

	onEnded()
}

func (e *beepElement) progressLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopTicker:
			return
		case <-ticker.C:
			e.mu.Lock()
			playing := e.playing && e.streamer != nil
			var position float64
			if playing {
				position = e.positionLocked()
			}
			onProgress := e.onProgress
			e.mu.Unlock()

			if playing && onProgress != nil {
				onProgress(position)
			}
		}
	}
}

func (e *beepElement) positionLocked() float64 {
	if e.streamer == nil {
		return 0
	}

	speaker.Lock()
	samples := e.streamer.Position()
	speaker.Unlock()

	return e.format.SampleRate.D(samples).Seconds()
}

func (e *beepElement) detachLocked() {
	if e.ctrl != nil {
		speaker.Lock()
		e.ctrl.Paused = true
		speaker.Unlock()
	}
	if e.streamer != nil {
		e.streamer.Close()
		e.streamer = nil
	}
	e.ctrl = nil
	e.gain = nil
	e.started = false
	e.playing = false
}

// gainStreamer scales output samples by a linear gain, with a hard mute.
// Fields are mutated only while the speaker is locked.
type gainStreamer struct {
	streamer beep.Streamer
	gain     float64
	muted    bool
}

func (g *gainStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := g.streamer.Stream(samples)

	factor := g.gain
	if g.muted {
		factor = 0
	}
	for i := 0; i < n; i++ {
		samples[i][0] *= factor
		samples[i][1] *= factor
	}

	return n, ok
}

func (g *gainStreamer) Err() error {
	return g.streamer.Err()
}

func fetchSource(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		response, err := http.Get(uri)
		if err != nil {
			return nil, fmt.Errorf("fetch %q: %w", uri, err)
		}
		defer response.Body.Close()

		if response.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %q: unexpected status %s", uri, response.Status)
		}

		data, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", uri, err)
		}
		return data, nil
	}

	data, err := os.ReadFile(uri)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", uri, err)
	}

	return data, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
