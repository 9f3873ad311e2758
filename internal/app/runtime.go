package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

// TestModeEnv disables binary startup when set to a true value.
const TestModeEnv = "BILLING_TEST_MODE"

// InTestMode reports whether BILLING_TEST_MODE is set to a true value.
// Unparseable values count as false.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
