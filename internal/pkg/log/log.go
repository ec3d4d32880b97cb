// Package log add logging utilities.
package log

import (
	"strings"
	"time"

	"camelrace/internal/pkg/wire"

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

// MessageToFields renders a wire message as log fields.
func MessageToFields(msg wire.Message) logrus.Fields {
	if msg == nil {
		return logrus.Fields{"kind": "nil"}
	}
	fields := logrus.Fields{"kind": msg.Kind().String()}
	switch m := msg.(type) {
	case *wire.ConnectionRequest:
		fields["client"] = m.ClientID
	case *wire.GroupAssignment:
		fields["group"] = m.GroupID
		fields["relay"] = m.RelayAddress
		fields["relay_port"] = m.RelayPort
		fields["size"] = m.GroupSize
		fields["seed"] = m.Seed
	case *wire.RaceEvent:
		fields["event"] = m.Event.String()
		fields["client"] = m.ClientID
		fields["ts"] = m.Timestamp
		fields["pos"] = m.Position
	case *wire.Heartbeat:
		fields["client"] = m.ClientID
		fields["ts"] = m.Timestamp
	case *wire.RaceResult:
		fields["group"] = m.GroupID
		fields["ranking"] = strings.Join(m.Ranking, ",")
	case *wire.PlayerState:
		fields["client"] = m.ClientID
		fields["ready"] = m.Ready
	case *wire.ProtocolError:
		fields["code"] = m.Code
		fields["detail"] = m.Detail
	}
	return fields
}
