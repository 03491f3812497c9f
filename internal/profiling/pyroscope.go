//go:build pyroscope
// +build pyroscope

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

const defaultAppName = "nsclient"

// Enabled is true when profiling is compiled in.
const Enabled = true

// Start initializes Pyroscope profiling and returns the function that
// flushes and stops it.
func Start(log *logging.Logger) (func(), error) {
	log.Info("Starting Pyroscope")

	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return nop, errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}

	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = defaultAppName
	}

	tags := map[string]string{}
	if serviceTag := os.Getenv("PYROSCOPE_SERVICE_TAG"); serviceTag != "" {
		tags["service"] = serviceTag
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags:            tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nop, err
	}
	log.Infof("Pyroscope started successfully at %s, app name: %s", serverAddress, appName)
	return func() {
		if err := p.Stop(); err != nil {
			log.Warningf("Pyroscope stop: %v", err)
		}
	}, nil
}
