// Package log add logging utilities.
package log

import (
	"strings"
	"time"

	"gridnet/internal/pkg/wire"

	"github.com/sirupsen/logrus"
)

// SetLogger sets the default logger's level.
func SetLogger(level string) {
	logrus.SetLevel(logrus.ErrorLevel)
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	logrus.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.ErrorLevel)
	}
}

// PacketToFields flattens a decoded packet for structured logging.
func PacketToFields(p *wire.Packet) logrus.Fields {
	fields := logrus.Fields{
		"kind":    p.Payload.Kind().String(),
		"seq":     p.Seq,
		"cum_ack": p.CumAck,
	}
	if p.SackBits != 0 {
		fields["sack"] = p.SackBits
	}
	return fields
}
