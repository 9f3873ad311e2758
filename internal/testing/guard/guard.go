// Package guard is imported for side effects by tests that touch the
// binaries' bootstrap code, so nothing reaches real infrastructure.
package guard

import "os"

var defaults = map[string]string{
	"BILLING_TEST_MODE": "1",
	"ORDER_SERVICE_URL": "http://127.0.0.1:0",
}

func init() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}
