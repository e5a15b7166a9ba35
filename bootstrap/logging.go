// Package bootstrap builds the shared clients and components every service
// binary starts from.
package bootstrap

import (
	"os"

	log "github.com/sirupsen/logrus"

	"taskmanager/config"
)

// NewLogger returns a JSON logger tagged with the service name.
func NewLogger(service string, cfg *config.Config) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg != nil && cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	logger.AddHook(serviceHook(service))
	return logger
}

type serviceHook string

func (serviceHook) Levels() []log.Level { return log.AllLevels }

func (h serviceHook) Fire(e *log.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = string(h)
	}
	return nil
}
