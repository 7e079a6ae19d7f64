package main

import (
	"context"

	"aria/internal/library"
	"aria/internal/player"
	"aria/internal/track"
)

// StartupSnapshot is everything the frontend needs in one call after the
// webview loads, instead of racing individual fetches.
type StartupSnapshot struct {
	PlayerState  player.State          `json:"playerState"`
	Tracks       []track.Track         `json:"tracks"`
	WatchedRoots []library.WatchedRoot `json:"watchedRoots"`
	ScanStatus   library.ScanStatus    `json:"scanStatus"`
}

type BootstrapService struct {
	catalog *library.Catalog
	roots   *library.WatchedRootRepository
	scanner *library.Scanner
	store   *player.Store
}

func NewBootstrapService(
	catalog *library.Catalog,
	roots *library.WatchedRootRepository,
	scanner *library.Scanner,
	store *player.Store,
) *BootstrapService {
	return &BootstrapService{
		catalog: catalog,
		roots:   roots,
		scanner: scanner,
		store:   store,
	}
}

func (s *BootstrapService) GetInitialState() (StartupSnapshot, error) {
	ctx := context.Background()

	tracks, err := s.catalog.List(ctx)
	if err != nil {
		return StartupSnapshot{}, err
	}

	roots, err := s.roots.List(ctx)
	if err != nil {
		return StartupSnapshot{}, err
	}

	return StartupSnapshot{
		PlayerState:  s.store.GetState(),
		Tracks:       tracks,
		WatchedRoots: roots,
		ScanStatus:   s.scanner.GetStatus(),
	}, nil
}
