// Package guard switches the process into test mode when imported, so binaries
// under test skip Redis and network startup.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WASTEPLAN_TEST_MODE") == "" {
			_ = os.Setenv("WASTEPLAN_TEST_MODE", "1")
		}
	})
}
