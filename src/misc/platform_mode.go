package misc

// PlatformMode selects how the core is clocked.
type PlatformMode string

const (
	// PlatformModeFunctional steps the core in a plain loop.
	PlatformModeFunctional PlatformMode = "functional"
	// PlatformModeEngine registers the core as a ticking component of an
	// event-driven engine.
	PlatformModeEngine PlatformMode = "engine"
)

func DefaultPlatformMode() PlatformMode {
	return PlatformModeFunctional
}

// PlatformModeFromString converts an arbitrary string into a PlatformMode. When
// the provided value is unknown the bool return will be false.
func PlatformModeFromString(value string) (PlatformMode, bool) {
	switch value {
	case string(PlatformModeFunctional):
		return PlatformModeFunctional, true
	case string(PlatformModeEngine):
		return PlatformModeEngine, true
	default:
		return "", false
	}
}
