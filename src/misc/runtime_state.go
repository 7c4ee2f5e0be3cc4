package misc

import "sync"

// runtimeState holds what ConfigureRuntime decided for the whole process.
type runtimeState struct {
	lock    sync.RWMutex
	mode    PlatformMode
	verbose int
}

var runtime = runtimeState{mode: DefaultPlatformMode()}

func SetRuntimePlatformMode(mode PlatformMode) {
	runtime.lock.Lock()
	defer runtime.lock.Unlock()

	runtime.mode = mode
}

func RuntimePlatformMode() PlatformMode {
	runtime.lock.RLock()
	defer runtime.lock.RUnlock()

	return runtime.mode
}

// SetRuntimeVerbose sets the verbosity: 0 prints results only, 1 adds a
// per-run summary and 2 traces every pipeline event.
func SetRuntimeVerbose(level int) {
	runtime.lock.Lock()
	defer runtime.lock.Unlock()

	runtime.verbose = level
}

func RuntimeVerbose() int {
	runtime.lock.RLock()
	defer runtime.lock.RUnlock()

	return runtime.verbose
}
