package main

import (
	"go.temporal.io/sdk/client"

	"github.com/Koko12137/tasking-community-sub000/internal/config"
)

// temporalClientOptions translates the config-level Temporal settings into
// the Go SDK's own client.Options.
func temporalClientOptions(s config.Settings) client.Options {
	return client.Options{
		HostPort:  s.TemporalHostPort,
		Namespace: s.TemporalNamespace,
	}
}
