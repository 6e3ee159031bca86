package core

// EvaluateFeature reports whether feature is on for clientID in env: the
// environment must be enabled and the client must be in the audience.
func EvaluateFeature(feature Feature, state State, env Environment, clientID string) bool {
	enabled, err := feature.Env.Get(env)
	if err != nil || !enabled {
		return false
	}

	return ResolveAudience(feature, state).Contains(clientID)
}

// EvaluateFeatures evaluates every feature for one client, keyed by flag key.
// Features sharing a key are OR-ed together since keys are not unique.
func EvaluateFeatures(state State, env Environment, clientID string) map[string]bool {
	results := make(map[string]bool, len(state.Features))

	for _, feature := range state.Features {
		results[feature.Key] = results[feature.Key] || EvaluateFeature(feature, state, env, clientID)
	}

	return results
}
