package mic

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	hostMu   sync.Mutex
	hostRefs int
)

// Initialize starts the PortAudio host on first use. Each successful call
// must be balanced by Terminate; the host shuts down with the last one.
func Initialize() error {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: %w", err)
		}
	}
	hostRefs++
	return nil
}

// Terminate releases one Initialize. Extra calls are ignored.
func Terminate() {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		return
	}
	hostRefs--
	if hostRefs == 0 {
		_ = portaudio.Terminate()
	}
}
