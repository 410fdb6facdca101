package types

// Version is the drover release version, overridden at build time via
// -ldflags "-X github.com/m-mizutani/drover/pkg/domain/types.Version=..."
var Version = "dev"

const (
	// ServiceName is used in health responses and notification footers
	ServiceName = "drover"

	// DefaultShell runs `run:` steps when the step does not set `shell:`
	DefaultShell = "sh"

	// OutputTailLimit bounds the retained combined output per step
	OutputTailLimit = 64 * 1024
)
