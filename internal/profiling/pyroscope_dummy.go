//go:build !pyroscope
// +build !pyroscope

package profiling

import "gopkg.in/op/go-logging.v1"

// Enabled is true when profiling is compiled in.
const Enabled = false

// Start is a dummy function that does nothing.
func Start(log *logging.Logger) (func(), error) {
	log.Debug("Pyroscope is disabled")
	return nop, nil
}
