//go:build !windows

package platform

import (
	"aria/internal/player"

	"github.com/wailsapp/wails/v3/pkg/application"
)

type noopService struct{}

func NewService(_ *application.App, _ *player.Store) Service {
	return &noopService{}
}

func (s *noopService) Start() error {
	return nil
}

func (s *noopService) Stop() error {
	return nil
}

func (s *noopService) HandlePlayerState(_ player.State) {}
