package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.senan.xyz/taglib"

	"aria/internal/track"
)

var supportedExtensions = map[string]struct{}{
	".aac":  {},
	".aif":  {},
	".aiff": {},
	".flac": {},
	".m4a":  {},
	".mp3":  {},
	".ogg":  {},
	".opus": {},
	".wav":  {},
	".wma":  {},
}

func IsSupportedAudioFile(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Importer turns audio files into catalog entries. Tag data comes from
// taglib; files whose tags cannot be read still import with metadata derived
// from the file name.
type Importer struct {
	catalog *Catalog
	log     *slog.Logger
}

func NewImporter(catalog *Catalog, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Importer{catalog: catalog, log: logger}
}

// ImportFile reads one audio file and upserts it into the catalog. A file
// that was imported before keeps its track id.
func (i *Importer) ImportFile(ctx context.Context, path string) (track.Track, error) {
	cleanPath := filepath.Clean(path)
	if !IsSupportedAudioFile(cleanPath) {
		return track.Track{}, fmt.Errorf("unsupported audio file %q", cleanPath)
	}

	item := fallbackTrack(cleanPath)

	if tags, err := taglib.ReadTags(cleanPath); err != nil {
		i.log.Debug("tag read failed, using file name metadata", "path", cleanPath, "error", err)
	} else {
		if title := firstTagValue(tags, taglib.Title); title != "" {
			item.Title = title
		}
		if artist := firstTagValue(tags, taglib.Artist, taglib.AlbumArtist); artist != "" {
			item.Artist = artist
		}
	}

	if properties, err := taglib.ReadProperties(cleanPath); err != nil {
		i.log.Debug("audio properties unavailable", "path", cleanPath, "error", err)
	} else if properties.Length > 0 {
		item.DurationSeconds = properties.Length.Seconds()
	}

	existingID, found, err := i.catalog.IDByOriginPath(ctx, cleanPath)
	if err != nil {
		return track.Track{}, err
	}
	if found {
		item.ID = existingID
	} else {
		item.ID = uuid.NewString()
	}

	if err := i.catalog.Upsert(ctx, item, cleanPath); err != nil {
		return track.Track{}, err
	}

	return item, nil
}

func fallbackTrack(cleanPath string) track.Track {
	fileName := filepath.Base(cleanPath)
	title := strings.TrimSpace(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	if title == "" {
		title = fileName
	}

	artist := "Unknown Artist"
	if parent := filepath.Base(filepath.Dir(cleanPath)); parent != "." && parent != string(filepath.Separator) {
		artist = parent
	}

	return track.Track{
		Title:       title,
		Artist:      artist,
		AudioSource: track.SingleSource(cleanPath),
	}
}

func firstTagValue(tags map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, value := range tags[key] {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}
