package platform

import "aria/internal/player"

// Service mirrors playback state onto OS integrations such as the Windows
// system media transport controls and routes hardware media keys back into
// the player.
type Service interface {
	Start() error
	Stop() error
	HandlePlayerState(state player.State)
}
