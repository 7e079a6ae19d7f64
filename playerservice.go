package main

import (
	"aria/internal/player"
	"aria/internal/track"
)

type PlayerService struct {
	store *player.Store
}

func NewPlayerService(store *player.Store) *PlayerService {
	return &PlayerService{store: store}
}

func (s *PlayerService) GetState() player.State {
	return s.store.GetState()
}

// PlayTrack starts the given track, or toggles pause when it is already the
// current one.
func (s *PlayerService) PlayTrack(item track.Track) player.State {
	return s.store.PlayTrack(item)
}

func (s *PlayerService) PauseTrack() player.State {
	return s.store.PauseTrack()
}

func (s *PlayerService) PlayNext() player.State {
	return s.store.PlayNext()
}

func (s *PlayerService) PlayPrevious() player.State {
	return s.store.PlayPrevious()
}

func (s *PlayerService) Seek(seconds float64) player.State {
	return s.store.SetCurrentTime(seconds)
}

func (s *PlayerService) SetVolume(volume float64) player.State {
	return s.store.SetVolume(volume)
}

func (s *PlayerService) ToggleMute() player.State {
	return s.store.ToggleMute()
}

func (s *PlayerService) ToggleShuffle() player.State {
	return s.store.ToggleShuffle()
}

func (s *PlayerService) ToggleLoop() player.State {
	return s.store.ToggleLoop()
}

func (s *PlayerService) ToggleCrossfade() player.State {
	return s.store.ToggleCrossfade()
}

func (s *PlayerService) SetAudioQuality(quality string) player.State {
	return s.store.SetAudioQuality(track.Quality(quality))
}
