package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "POLICYD_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// InTestMode reports whether startup should skip external side effects:
// schema migration, Redis and the cleanup scheduler.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testModeFlag.Store(os.Getenv(testModeEnv) == "1")
	})
	return testModeFlag.Load()
}

// SetTestMode overrides the environment flag.
func SetTestMode(on bool) {
	testModeOnce.Do(func() {})
	testModeFlag.Store(on)
}
