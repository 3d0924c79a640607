// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init sets output, format and level. Outside the dev environment entries
// are written as JSON so they can be shipped as-is.
func Init(env, level string) {
	log.SetOutput(os.Stdout)
	if env == "dev" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
