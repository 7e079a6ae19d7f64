package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

const (
	EventScanProgress = "library:progress"
	EventImported     = "library:imported"
)

type ScanProgress struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
	Status  string `json:"status"`
	At      string `json:"at"`
}

type ScanStatus struct {
	Running       bool   `json:"running"`
	LastRunAt     string `json:"lastRunAt"`
	LastError     string `json:"lastError,omitempty"`
	LastFilesSeen int    `json:"lastFilesSeen"`
	LastImported  int    `json:"lastImported"`
	LastRemoved   int    `json:"lastRemoved"`
}

// Scanner walks the enabled watched roots and reconciles the catalog with
// what is on disk: new and changed files are imported, entries for vanished
// files are removed. One scan runs at a time.
type Scanner struct {
	mu            sync.Mutex
	running       bool
	lastRun       time.Time
	lastError     string
	lastFilesSeen int
	lastImported  int
	lastRemoved   int
	emit          Emitter

	catalog  *Catalog
	importer *Importer
	roots    *WatchedRootRepository
	log      *slog.Logger
}

type scanTotals struct {
	filesSeen int
	imported  int
	removed   int
}

func NewScanner(catalog *Catalog, importer *Importer, roots *WatchedRootRepository, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{
		catalog:  catalog,
		importer: importer,
		roots:    roots,
		log:      logger,
	}
}

func (s *Scanner) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

func (s *Scanner) TriggerFullScan() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scan already in progress")
	}
	s.running = true
	s.lastError = ""
	s.mu.Unlock()

	go s.runFullScan()
	return nil
}

func (s *Scanner) GetStatus() ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ScanStatus{
		Running:       s.running,
		LastError:     s.lastError,
		LastFilesSeen: s.lastFilesSeen,
		LastImported:  s.lastImported,
		LastRemoved:   s.lastRemoved,
	}
	if !s.lastRun.IsZero() {
		status.LastRunAt = s.lastRun.UTC().Format(time.RFC3339)
	}

	return status
}

func (s *Scanner) runFullScan() {
	ctx := context.Background()
	totals, err := s.performScan(ctx)

	s.mu.Lock()
	s.running = false
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastRun = time.Now().UTC()
		s.lastFilesSeen = totals.filesSeen
		s.lastImported = totals.imported
		s.lastRemoved = totals.removed
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("library scan failed", "error", err)
		s.emitProgress(ScanProgress{
			Phase:   "failed",
			Message: err.Error(),
			Percent: 100,
			Status:  "failed",
			At:      nowStamp(),
		})
		return
	}

	s.emitProgress(ScanProgress{
		Phase: "done",
		Message: fmt.Sprintf(
			"Scan complete: %d files seen, %d imported, %d removed",
			totals.filesSeen,
			totals.imported,
			totals.removed,
		),
		Percent: 100,
		Status:  "completed",
		At:      nowStamp(),
	})
}

func (s *Scanner) performScan(ctx context.Context) (scanTotals, error) {
	s.emitProgress(ScanProgress{
		Phase:   "start",
		Message: "Starting library scan",
		Percent: 5,
		Status:  "running",
		At:      nowStamp(),
	})

	roots, err := s.roots.ListEnabled(ctx)
	if err != nil {
		return scanTotals{}, fmt.Errorf("list watched roots: %w", err)
	}

	if len(roots) == 0 {
		s.emitProgress(ScanProgress{
			Phase:   "done",
			Message: "No enabled watched folders configured",
			Percent: 100,
			Status:  "completed",
			At:      nowStamp(),
		})
		return scanTotals{}, nil
	}

	scanStartedAt := nowStamp()
	totals := scanTotals{}

	for i, root := range roots {
		progress := 10 + ((i * 70) / len(roots))
		s.emitProgress(ScanProgress{
			Phase:   "scan",
			Message: fmt.Sprintf("Scanning %s", root.Path),
			Percent: progress,
			Status:  "running",
			At:      nowStamp(),
		})

		rootTotals, scanErr := s.scanRoot(ctx, root)
		totals.filesSeen += rootTotals.filesSeen
		totals.imported += rootTotals.imported
		if scanErr != nil {
			return scanTotals{}, scanErr
		}
	}

	s.emitProgress(ScanProgress{
		Phase:   "cleanup",
		Message: "Removing entries for vanished files",
		Percent: 90,
		Status:  "running",
		At:      nowStamp(),
	})

	for _, root := range roots {
		removed, cleanupErr := s.catalog.RemoveStaleUnder(ctx, root.Path, scanStartedAt)
		if cleanupErr != nil {
			return scanTotals{}, cleanupErr
		}
		totals.removed += int(removed)
	}

	return totals, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root WatchedRoot) (scanTotals, error) {
	rootTotals := scanTotals{}

	err := filepath.WalkDir(root.Path, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.log.Warn("skipping unreadable path", "path", path, "error", walkErr)
			return nil
		}

		if entry.IsDir() || !IsSupportedAudioFile(path) {
			return nil
		}

		rootTotals.filesSeen++
		if _, importErr := s.importer.ImportFile(ctx, path); importErr != nil {
			s.log.Warn("failed to import file", "path", path, "error", importErr)
			return nil
		}
		rootTotals.imported++

		return nil
	})
	if err != nil {
		return scanTotals{}, fmt.Errorf("walk root %s: %w", root.Path, err)
	}

	return rootTotals, nil
}

func (s *Scanner) emitProgress(progress ScanProgress) {
	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventScanProgress, progress)
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
