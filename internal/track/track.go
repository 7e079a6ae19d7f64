package track

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

type Quality string

const (
	QualityLow    Quality = "low"
	QualityNormal Quality = "normal"
	QualityHigh   Quality = "high"
)

func NormalizeQuality(value string) (Quality, error) {
	switch Quality(value) {
	case QualityLow, QualityNormal, QualityHigh:
		return Quality(value), nil
	case "":
		return QualityHigh, nil
	default:
		return "", fmt.Errorf("invalid audio quality %q", value)
	}
}

// Track is an immutable description of a playable item. Tracks are supplied
// by the library layer and flow through the player by value.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	ArtworkRef      string  `json:"artworkRef,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	AudioSource     Source  `json:"audioSource"`
}

// Source is the audio source variant: either a single URI or a set of
// alternative URIs per quality tier. On the wire it is either a plain JSON
// string or an object with low/normal/high keys.
type Source struct {
	URI    string
	Tiered *TieredSource
}

type TieredSource struct {
	Low    string `json:"low,omitempty"`
	Normal string `json:"normal,omitempty"`
	High   string `json:"high,omitempty"`
}

func SingleSource(uri string) Source {
	return Source{URI: uri}
}

// Resolve picks the URI for the requested quality, falling back through the
// other tiers when the preferred one is absent. A single-URI source ignores
// the quality preference.
func (s Source) Resolve(quality Quality) string {
	if s.Tiered == nil {
		return s.URI
	}

	switch quality {
	case QualityLow:
		return lo.CoalesceOrEmpty(s.Tiered.Low, s.Tiered.Normal, s.Tiered.High)
	case QualityNormal:
		return lo.CoalesceOrEmpty(s.Tiered.Normal, s.Tiered.High, s.Tiered.Low)
	default:
		return lo.CoalesceOrEmpty(s.Tiered.High, s.Tiered.Normal, s.Tiered.Low)
	}
}

func (s Source) MarshalJSON() ([]byte, error) {
	if s.Tiered != nil {
		return json.Marshal(s.Tiered)
	}

	return json.Marshal(s.URI)
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var uri string
	if err := json.Unmarshal(data, &uri); err == nil {
		*s = Source{URI: uri}
		return nil
	}

	var tiered TieredSource
	if err := json.Unmarshal(data, &tiered); err != nil {
		return fmt.Errorf("decode audio source: %w", err)
	}

	*s = Source{Tiered: &tiered}
	return nil
}
