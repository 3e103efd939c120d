package config

import (
	"os"
	"sync"
)

const dockerHostGateway = "host.docker.internal"

var inContainer = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether the process runs inside a Docker container,
// detected by /.dockerenv. The result is cached.
func IsRunningInDocker() bool {
	return inContainer()
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when running in
// a container, so a source configured as "localhost" reaches the Docker host.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostGateway
	}
	return host
}
