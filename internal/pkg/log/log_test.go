package log

import (
	"testing"

	"camelrace/internal/pkg/wire"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	SetLogger("DEBUG")
	require.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	SetLogger("bogus")
	require.Equal(t, logrus.ErrorLevel, logrus.GetLevel())
}

func TestMessageToFields(t *testing.T) {
	fields := MessageToFields(&wire.RaceEvent{Event: wire.EventStep, ClientID: "Jugador1", Position: 20})
	require.Equal(t, "RACE_EVENT", fields["kind"])
	require.Equal(t, "STEP", fields["event"])
	require.Equal(t, "Jugador1", fields["client"])
	require.Equal(t, 20, fields["pos"])

	fields = MessageToFields(&wire.RaceResult{GroupID: 1, Ranking: []string{"a", "b"}})
	require.Equal(t, "a,b", fields["ranking"])

	require.Equal(t, "nil", MessageToFields(nil)["kind"])
}
