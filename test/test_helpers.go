package test

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestRegistry isolates Prometheus collectors per test, so wiring the
// full stack twice never trips duplicate registration.
func newTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
