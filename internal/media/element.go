// Package media abstracts the audio output device behind an element handle:
// an imperative load/play/pause/seek/volume surface that reports decode
// lifecycle back through callbacks. Implementations live behind build tags,
// selected by NewElement.
package media

// Element is one audio decode/render pipeline. A transport controller owns
// each element exclusively; assigning a new source implicitly abandons
// whatever the element was doing before.
type Element interface {
	// SetSource loads a URI (file path or URL) into the element, replacing
	// any prior source. Loading is asynchronous; OnMetadata fires when the
	// duration is known, OnError if the source cannot be decoded.
	SetSource(uri string) error
	ClearSource()
	Source() string

	Play() error
	Pause() error
	SeekSeconds(position float64) error
	SetVolume(gain float64) error
	SetMuted(muted bool) error
	PositionSeconds() (float64, error)

	SetOnMetadata(callback func(durationSeconds float64))
	SetOnProgress(callback func(positionSeconds float64))
	SetOnEnded(callback func())
	SetOnError(callback func(err error))

	Close() error
}
