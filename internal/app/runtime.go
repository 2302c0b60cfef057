package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "BILLING_TEST_MODE"

var testMode = sync.OnceValue(readTestMode)

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}

// InTestMode reports whether BILLING_TEST_MODE asks the binaries to exit
// before touching PostgreSQL or Redis. The flag is read once per process.
func InTestMode() bool {
	return testMode()
}
