package app

import (
	"github.com/hanrai/VoiceShow/internal/params"
	"github.com/hanrai/VoiceShow/internal/pipeline"
)

// Snapshot returns the session's latest state.
func (a *App) Snapshot() pipeline.Snapshot {
	return a.session.Latest()
}

// Params returns the parameters currently in force.
func (a *App) Params() params.Parameters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.params.Clone()
}

// UpdateParams applies a classifier patch. The session keeps its previous
// classifier when the patch is rejected.
func (a *App) UpdateParams(patch params.Patch) (params.Parameters, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, err := a.params.Apply(patch)
	if err != nil {
		return params.Parameters{}, err
	}
	if err := a.session.SetClassifier(next.Classify); err != nil {
		return params.Parameters{}, err
	}
	a.params = next
	return next.Clone(), nil
}

// Reset clears the session state and starts a new session id.
func (a *App) Reset() {
	a.session.Reset()
	a.log.Info("session reset", "session", a.session.ID())
}

func (a *App) reloadParams(p params.Parameters) {
	p = a.override(p)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.session.Reconfigure(p.Pipeline()); err != nil {
		a.log.Error("reloaded params rejected", "err", err)
		return
	}
	a.params = p
}
