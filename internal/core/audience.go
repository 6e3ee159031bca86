package core

// Audience is the effective set of clients a feature applies to. All is the
// "every client" sentinel; ClientIDs is only meaningful when All is false.
type Audience struct {
	All       bool     `json:"all"`
	ClientIDs []string `json:"clientIds"`
}

// ResolveAudience derives the clients feature currently targets in state.
// Client ids are passed through even when the client no longer exists; groups
// that no longer exist contribute nothing.
func ResolveAudience(feature Feature, state State) Audience {
	switch t := feature.Targeting.(type) {
	case ClientList:
		return Audience{ClientIDs: dedupe(t.ClientIDs)}
	case GroupList:
		members := make([]string, 0)
		for _, groupID := range t.GroupIDs {
			i := state.GroupIndex(groupID)
			if i < 0 {
				continue
			}
			members = append(members, state.Groups[i].ClientIDs...)
		}
		return Audience{ClientIDs: dedupe(members)}
	default:
		return Audience{All: true, ClientIDs: []string{}}
	}
}

// Labels returns a display name per audience member, in audience order.
func (a Audience) Labels(state State) []string {
	labels := make([]string, 0, len(a.ClientIDs))
	for _, id := range a.ClientIDs {
		labels = append(labels, state.ClientName(id))
	}
	return labels
}

// Contains reports whether clientID is part of the audience.
func (a Audience) Contains(clientID string) bool {
	if a.All {
		return true
	}
	for _, id := range a.ClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}
