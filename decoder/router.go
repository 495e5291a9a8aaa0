package decoder

import "github.com/hybridsix/chronocore/model"

// Router maps receiver device ids to logical sources. Devices in
// neither pit list belong to the track loop, as does a pass with no
// device id at all.
type Router struct {
	roles map[string]model.Source
}

// NewRouter builds a router from the configured pit receiver lists.
// Disjointness is enforced at config load.
func NewRouter(pitIn, pitOut []string) *Router {
	roles := make(map[string]model.Source, len(pitIn)+len(pitOut))
	for _, id := range pitIn {
		roles[id] = model.SourcePitIn
	}
	for _, id := range pitOut {
		roles[id] = model.SourcePitOut
	}
	return &Router{roles: roles}
}

// Route returns the logical source of a device id.
func (r *Router) Route(deviceID string) model.Source {
	if src, ok := r.roles[deviceID]; ok {
		return src
	}
	return model.SourceTrack
}
