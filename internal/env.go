package internal

import "github.com/pkg/errors"

var logLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {},
}

// ValidateEnv checks the resolved configuration values for coherence.
// Call it after flag parsing, before building any app.
func ValidateEnv() error {
	if _, ok := logLevels[LogLevel]; !ok {
		return errors.Errorf("unknown log level %q", LogLevel)
	}
	// Port stays zero for commands that do not register the flag.
	if Port < 0 || Port > 65535 {
		return errors.Errorf("port %d out of range", Port)
	}
	if RoomCapacity < 0 {
		return errors.Errorf("room capacity %d is negative", RoomCapacity)
	}
	return nil
}
