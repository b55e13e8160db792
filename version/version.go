package version

import "os"

// Version is set at build time via -ldflags.
var Version = "dev"

// Info is the /version endpoint payload.
type Info struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

// Get returns the build metadata for a service.
func Get(service string) Info {
	return Info{
		Service: service,
		Version: Version,
		Commit:  os.Getenv("GIT_COMMIT"),
	}
}
