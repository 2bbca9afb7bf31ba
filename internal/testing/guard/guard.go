// Package guard switches the process into test mode when imported, so test
// binaries never migrate schemas or dial Redis by accident.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("POLICYD_TEST_MODE") == "" {
			_ = os.Setenv("POLICYD_TEST_MODE", "1")
		}
	})
}
