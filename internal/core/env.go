package core

import (
	"errors"
	"fmt"
	"strings"
)

// Environment is one of the fixed deployment stages a feature can be enabled in.
type Environment string

const (
	EnvDev   Environment = "Dev"
	EnvTest  Environment = "Test"
	EnvOps   Environment = "Ops"
	EnvStage Environment = "Stage"
	EnvProd  Environment = "Prod"
)

// Environments lists every environment in display order.
var Environments = []Environment{EnvDev, EnvTest, EnvOps, EnvStage, EnvProd}

var ErrUnknownEnvironment = errors.New("unknown environment")

// ParseEnvironment accepts an environment name case-insensitively.
func ParseEnvironment(name string) (Environment, error) {
	trimmed := strings.TrimSpace(name)
	for _, env := range Environments {
		if strings.EqualFold(string(env), trimmed) {
			return env, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
}

// EnvFlags holds the enablement of a feature in each environment. Every
// environment is a field, so a value always carries all five.
type EnvFlags struct {
	Dev   bool `json:"Dev"`
	Test  bool `json:"Test"`
	Ops   bool `json:"Ops"`
	Stage bool `json:"Stage"`
	Prod  bool `json:"Prod"`
}

// DefaultEnv is the enablement given to new features: on in Dev and Test.
func DefaultEnv() EnvFlags {
	return EnvFlags{Dev: true, Test: true}
}

// Get reports whether the feature is on in env.
func (e EnvFlags) Get(env Environment) (bool, error) {
	switch env {
	case EnvDev:
		return e.Dev, nil
	case EnvTest:
		return e.Test, nil
	case EnvOps:
		return e.Ops, nil
	case EnvStage:
		return e.Stage, nil
	case EnvProd:
		return e.Prod, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownEnvironment, string(env))
	}
}

// With returns a copy of e with env set to value.
func (e EnvFlags) With(env Environment, value bool) (EnvFlags, error) {
	switch env {
	case EnvDev:
		e.Dev = value
	case EnvTest:
		e.Test = value
	case EnvOps:
		e.Ops = value
	case EnvStage:
		e.Stage = value
	case EnvProd:
		e.Prod = value
	default:
		return e, fmt.Errorf("%w: %q", ErrUnknownEnvironment, string(env))
	}
	return e, nil
}

func normalizeEnv(raw any) EnvFlags {
	obj, ok := raw.(map[string]any)
	if !ok {
		return DefaultEnv()
	}

	flag := func(env Environment) bool {
		return truthy(obj[string(env)])
	}

	return EnvFlags{
		Dev:   flag(EnvDev),
		Test:  flag(EnvTest),
		Ops:   flag(EnvOps),
		Stage: flag(EnvStage),
		Prod:  flag(EnvProd),
	}
}

// truthy reports whether a decoded JSON value counts as on. Stored flags from
// older writers may be numbers or strings, so any non-zero, non-empty value
// is on.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
