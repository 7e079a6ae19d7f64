package main

import (
	"context"

	"aria/internal/library"
	"aria/internal/track"
)

type LibraryService struct {
	catalog  *library.Catalog
	importer *library.Importer
	scanner  *library.Scanner
}

func NewLibraryService(catalog *library.Catalog, importer *library.Importer, scanner *library.Scanner) *LibraryService {
	return &LibraryService{
		catalog:  catalog,
		importer: importer,
		scanner:  scanner,
	}
}

func (s *LibraryService) ListTracks() ([]track.Track, error) {
	return s.catalog.List(context.Background())
}

func (s *LibraryService) SearchTracks(query string) ([]track.Track, error) {
	return s.catalog.Search(context.Background(), query)
}

func (s *LibraryService) GetTrack(id string) (track.Track, error) {
	return s.catalog.GetByID(context.Background(), id)
}

func (s *LibraryService) ImportFile(path string) (track.Track, error) {
	return s.importer.ImportFile(context.Background(), path)
}

func (s *LibraryService) TriggerFullScan() error {
	return s.scanner.TriggerFullScan()
}

func (s *LibraryService) GetScanStatus() library.ScanStatus {
	return s.scanner.GetStatus()
}
