package main

import (
	"fmt"

	"hedge-sync-go/internal/registry"
)

// target is the master a command is sent to.
type target struct {
	Login           string
	CommandEndpoint string
	DataEndpoint    string
	ServerKey       string
}

// resolve picks the target from the flags, falling back to the registry.
// needCommands rejects masters that run without a command channel.
func (rc *rootConfig) resolve(needCommands bool) (target, error) {
	if rc.Endpoint != "" {
		return target{Login: rc.Login, CommandEndpoint: rc.Endpoint, ServerKey: rc.ServerKey}, nil
	}

	var rec registry.Record
	if rc.Login != "" {
		r, err := registry.Read(rc.RegistryDir, rc.Login)
		if err != nil {
			return target{}, fmt.Errorf("no master registered for %s: %w", rc.Login, err)
		}
		rec = r
	} else {
		records, err := registry.List(rc.RegistryDir)
		if err != nil {
			return target{}, err
		}
		switch len(records) {
		case 0:
			return target{}, fmt.Errorf("no masters registered in %s", rc.RegistryDir)
		case 1:
			rec = records[0]
		default:
			return target{}, fmt.Errorf("%d masters registered in %s; pick one with --login", len(records), rc.RegistryDir)
		}
	}

	t := target{
		Login:           rec.Login,
		CommandEndpoint: rec.CommandEndpoint,
		DataEndpoint:    rec.DataEndpoint,
		ServerKey:       rc.ServerKey,
	}
	if t.ServerKey == "" && rec.CurveEnabled {
		t.ServerKey = rec.CurvePublicKey
	}
	if needCommands && t.CommandEndpoint == "" {
		return t, fmt.Errorf("master %s has commands disabled", rec.Login)
	}
	return t, nil
}
