package main

import (
	"aria/internal/player"
	"aria/internal/track"
)

type QueueService struct {
	store *player.Store
}

func NewQueueService(store *player.Store) *QueueService {
	return &QueueService{store: store}
}

func (s *QueueService) GetState() player.State {
	return s.store.GetState()
}

func (s *QueueService) PlayCollection(tracks []track.Track, startIndex int) player.State {
	return s.store.PlayCollection(tracks, startIndex)
}

func (s *QueueService) SetQueue(tracks []track.Track) player.State {
	return s.store.SetQueue(tracks)
}

func (s *QueueService) AddToQueue(item track.Track) player.State {
	return s.store.AddToQueue(item)
}

func (s *QueueService) RemoveFromQueue(id string) player.State {
	return s.store.RemoveFromQueue(id)
}

func (s *QueueService) ClearQueue() player.State {
	return s.store.ClearQueue()
}
