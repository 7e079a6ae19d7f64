//go:build libmpv

package media

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	mpv "github.com/gen2brain/go-mpv"
)

const (
	mpvPauseProperty    = "pause"
	mpvVolumeProperty   = "volume"
	mpvMuteProperty     = "mute"
	mpvPositionProperty = "time-pos"
	mpvDurationProperty = "duration"

	progressInterval = 250 * time.Millisecond
)

// mpvElement drives one libmpv instance. Duration and position are polled on
// a ticker; end-of-file and shutdown arrive through the mpv event loop.
type mpvElement struct {
	mu          sync.Mutex
	client      *mpv.Mpv
	source      string
	metadataFor string
	playing     bool

	onMetadata func(durationSeconds float64)
	onProgress func(positionSeconds float64)
	onEnded    func()
	onError    func(err error)

	closeOnce   sync.Once
	closed      chan struct{}
	stopTicker  chan struct{}
	eventLoopWG sync.WaitGroup
}

func NewElement() (Element, error) {
	client := mpv.New()
	if client == nil {
		return nil, errors.New("create libmpv instance")
	}

	_ = client.SetOptionString("terminal", "no")
	_ = client.SetOptionString("video", "no")
	_ = client.SetOptionString("audio-display", "no")
	_ = client.SetOptionString("keep-open", "no")

	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("initialize libmpv: %w", err)
	}

	element := &mpvElement{
		client:     client,
		closed:     make(chan struct{}),
		stopTicker: make(chan struct{}),
	}

	_ = client.RequestEvent(mpv.EventEnd, true)

	element.eventLoopWG.Add(1)
	go element.eventLoop()
	go element.progressLoop()

	return element, nil
}

func (e *mpvElement) SetSource(uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("set pause before load: %w", err)
	}
	if err := e.client.Command([]string{"loadfile", uri, "replace"}); err != nil {
		return fmt.Errorf("load source %q: %w", uri, err)
	}

	e.source = uri
	e.metadataFor = ""
	e.playing = false
	return nil
}

func (e *mpvElement) ClearSource() {
	e.mu.Lock()
	defer e.mu.Unlock()

	_ = e.client.Command([]string{"stop"})
	e.source = ""
	e.metadataFor = ""
	e.playing = false
}

func (e *mpvElement) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.source
}

func (e *mpvElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == "" {
		return errors.New("no source loaded")
	}
	if err := e.client.SetPropertyString(mpvPauseProperty, "no"); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}

	e.playing = true
	return nil
}

func (e *mpvElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}

	e.playing = false
	return nil
}

func (e *mpvElement) SeekSeconds(position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetProperty(mpvPositionProperty, mpv.FormatDouble, position); err != nil {
		return fmt.Errorf("seek playback: %w", err)
	}

	return nil
}

func (e *mpvElement) SetVolume(gain float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	if err := e.client.SetProperty(mpvVolumeProperty, mpv.FormatDouble, gain*100); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}

	return nil
}

func (e *mpvElement) SetMuted(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	value := "no"
	if muted {
		value = "yes"
	}
	if err := e.client.SetPropertyString(mpvMuteProperty, value); err != nil {
		return fmt.Errorf("set mute: %w", err)
	}

	return nil
}

func (e *mpvElement) PositionSeconds() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seconds, ok, err := e.readSecondsPropertyLocked(mpvPositionProperty)
	if err != nil || !ok {
		return 0, err
	}

	return seconds, nil
}

func (e *mpvElement) SetOnMetadata(callback func(durationSeconds float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMetadata = callback
}

func (e *mpvElement) SetOnProgress(callback func(positionSeconds float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = callback
}

func (e *mpvElement) SetOnEnded(callback func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = callback
}

func (e *mpvElement) SetOnError(callback func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = callback
}

func (e *mpvElement) Close() error {
	e.closeOnce.Do(func() {
		close(e.stopTicker)

		e.mu.Lock()
		client := e.client
		e.mu.Unlock()

		if client != nil {
			client.Wakeup()
			client.TerminateDestroy()
		}

		e.eventLoopWG.Wait()
		close(e.closed)
	})

	<-e.closed
	return nil
}

func (e *mpvElement) eventLoop() {
	defer e.eventLoopWG.Done()

	for {
		event := e.client.WaitEvent(0.5)
		if event == nil {
			continue
		}

		switch event.EventID {
		case mpv.EventShutdown:
			return
		case mpv.EventEnd:
			end := event.EndFile()

			e.mu.Lock()
			onEnded := e.onEnded
			onError := e.onError
			source := e.source
			e.mu.Unlock()

			switch end.Reason {
			case mpv.EndFileEOF:
				if onEnded != nil {
					onEnded()
				}
			case mpv.EndFileError:
				if onError != nil {
					onError(fmt.Errorf("decode %q failed", source))
				}
			}
		}
	}
}

// progressLoop polls position and duration. The first successful duration
// read per source doubles as the metadata-ready event.
func (e *mpvElement) progressLoop() {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopTicker:
			return
		case <-ticker.C:
			e.pollOnce()
		}
	}
}

func (e *mpvElement) pollOnce() {
	e.mu.Lock()
	if e.source == "" {
		e.mu.Unlock()
		return
	}
	source := e.source
	playing := e.playing
	needMetadata := e.metadataFor != source

	var duration float64
	var haveDuration bool
	if needMetadata {
		seconds, ok, err := e.readSecondsPropertyLocked(mpvDurationProperty)
		if err == nil && ok {
			duration = seconds
			haveDuration = true
			e.metadataFor = source
		}
	}

	var position float64
	var havePosition bool
	if playing {
		seconds, ok, err := e.readSecondsPropertyLocked(mpvPositionProperty)
		if err == nil && ok {
			position = seconds
			havePosition = true
		}
	}

	onMetadata := e.onMetadata
	onProgress := e.onProgress
	e.mu.Unlock()

	if haveDuration && onMetadata != nil {
		onMetadata(duration)
	}
	if havePosition && onProgress != nil {
		onProgress(position)
	}
}

func (e *mpvElement) readSecondsPropertyLocked(property string) (float64, bool, error) {
	value, err := e.client.GetProperty(property, mpv.FormatDouble)
	if err != nil {
		if errors.Is(err, mpv.ErrPropertyUnavailable) || errors.Is(err, mpv.ErrPropertyNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read %s: %w", property, err)
	}

	seconds, ok := asFloat64(value)
	if !ok || math.IsNaN(seconds) || seconds < 0 {
		return 0, false, nil
	}

	return seconds, true, nil
}

func asFloat64(value any) (float64, bool) {
	switch cast := value.(type) {
	case float64:
		return cast, true
	case float32:
		return float64(cast), true
	case int:
		return float64(cast), true
	case int64:
		return float64(cast), true
	default:
		return 0, false
	}
}
