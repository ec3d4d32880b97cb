// Package internal holds the process-wide configuration of the camelrace
// binary: every flag, its environment variable fallback, and its resolved value.
//
// Resolution order is command line flag, then CAMELRACE_* environment variable,
// then the default below.
package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"camelrace/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const envPrefix = "CAMELRACE_"

// Resolved configuration values.
var (
	Env      = "development"
	LogLevel = "info"

	Port       = 5000
	HealthPort = 8080
	GRPCPort   = 0

	PartySize      = 4
	MaxGroups      = 3
	RelayPool      = []string{"239.0.0.1", "239.0.0.2", "239.0.0.3"}
	RelayBasePort  = 6000
	RelayStrategy  = "fanout"
	RelayInterface = ""
	SelfDelivery   = false

	HeartbeatPeriod  = 5 * time.Second
	HeartbeatTimeout = 15 * time.Second

	ServerHost        = "localhost"
	ClientID          = ""
	Clients           = 1
	ReportResult      = false
	ClientTransport   = "tcp"
	HeartbeatInterval = 3 * time.Second
	StepInterval      = 500 * time.Millisecond
)

// Flag binds a command line flag and its environment variable to a variable.
// Value must be a *string, *int, *bool, *time.Duration or *[]string.
type Flag struct {
	Name  string
	Usage string
	Value interface{}
}

// EnvName is the environment variable consulted for the flag.
func (f *Flag) EnvName() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
}

// Flags.
var (
	EnvFlag      = Flag{Name: "env", Usage: "deployment environment (development|production|test)", Value: &Env}
	LogLevelFlag = Flag{Name: "log-level", Usage: "log level (trace|debug|info|warn|error)", Value: &LogLevel}

	PortFlag       = Flag{Name: "port", Usage: "control channel port", Value: &Port}
	HealthPortFlag = Flag{Name: "health-port", Usage: "diagnostics HTTP port, 0 disables", Value: &HealthPort}
	GRPCPortFlag   = Flag{Name: "grpc-port", Usage: "gRPC control channel port, 0 disables", Value: &GRPCPort}

	PartySizeFlag      = Flag{Name: "party-size", Usage: "members per group", Value: &PartySize}
	MaxGroupsFlag      = Flag{Name: "max-groups", Usage: "group ids are recycled modulo this value", Value: &MaxGroups}
	RelayPoolFlag      = Flag{Name: "relay-pool", Usage: "multicast addresses handed out to groups", Value: &RelayPool}
	RelayBasePortFlag  = Flag{Name: "relay-base-port", Usage: "port of the first relay channel", Value: &RelayBasePort}
	RelayStrategyFlag  = Flag{Name: "relay-strategy", Usage: "relay strategy (fanout|multicast)", Value: &RelayStrategy}
	RelayInterfaceFlag = Flag{Name: "relay-interface", Usage: "network interface used for multicast, empty for the system default", Value: &RelayInterface}
	SelfDeliveryFlag   = Flag{Name: "self-delivery", Usage: "fan-out echoes messages back to their sender", Value: &SelfDelivery}

	HeartbeatPeriodFlag  = Flag{Name: "heartbeat-period", Usage: "liveness sweep period", Value: &HeartbeatPeriod}
	HeartbeatTimeoutFlag = Flag{Name: "heartbeat-timeout", Usage: "heartbeat age after which a client is evicted", Value: &HeartbeatTimeout}

	ServerHostFlag        = Flag{Name: "server-host", Usage: "host of the relay server", Value: &ServerHost}
	ClientIDFlag          = Flag{Name: "client-id", Usage: "client id announced in the handshake, generated when empty", Value: &ClientID}
	ClientsFlag           = Flag{Name: "clients", Usage: "number of clients to race with, ids are suffixed with their index when more than one", Value: &Clients}
	ReportResultFlag      = Flag{Name: "report-result", Usage: "send the race result once every member finished", Value: &ReportResult}
	ClientTransportFlag   = Flag{Name: "transport", Usage: "control channel transport (tcp|grpc|ws)", Value: &ClientTransport}
	HeartbeatIntervalFlag = Flag{Name: "heartbeat-interval", Usage: "client heartbeat interval", Value: &HeartbeatInterval}
	StepIntervalFlag      = Flag{Name: "step-interval", Usage: "time between two race steps", Value: &StepInterval}
)

// RegisterCommandFlags registers flags as persistent flags of cmd. A flag whose
// environment variable is set takes that value as its default.
func RegisterCommandFlags(cmd *cobra.Command, flags []*Flag) error {
	fs := cmd.PersistentFlags()
	for _, f := range flags {
		if err := f.loadEnv(); err != nil {
			return errors.Wrapf(err, "load %s failed", f.EnvName())
		}
		usage := fmt.Sprintf("%s [%s]", f.Usage, f.EnvName())
		switch v := f.Value.(type) {
		case *string:
			fs.StringVar(v, f.Name, *v, usage)
		case *int:
			fs.IntVar(v, f.Name, *v, usage)
		case *bool:
			fs.BoolVar(v, f.Name, *v, usage)
		case *time.Duration:
			fs.DurationVar(v, f.Name, *v, usage)
		case *[]string:
			fs.StringSliceVar(v, f.Name, *v, usage)
		default:
			return errors.Errorf("flag %s has unsupported type %T", f.Name, f.Value)
		}
	}
	return nil
}

func (f *Flag) loadEnv() error {
	raw, ok := os.LookupEnv(f.EnvName())
	if !ok {
		return nil
	}
	switch v := f.Value.(type) {
	case *string:
		*v = raw
	case *int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Wrap(err, "parse int failed")
		}
		*v = n
	case *bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.Wrap(err, "parse bool failed")
		}
		*v = b
	case *time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.Wrap(err, "parse duration failed")
		}
		*v = d
	case *[]string:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*v = items
	default:
		return errors.Errorf("unsupported type %T", f.Value)
	}
	return nil
}

type env struct {
	Env               string        `validate:"oneof=development production test"`
	LogLevel          string        `validate:"oneof=trace debug info warn error"`
	Port              int           `validate:"min=1,max=65535"`
	HealthPort        int           `validate:"min=0,max=65535"`
	GRPCPort          int           `validate:"min=0,max=65535"`
	PartySize         int           `validate:"min=2"`
	MaxGroups         int           `validate:"min=1"`
	RelayPool         []string      `validate:"min=1,dive,ip"`
	RelayBasePort     int           `validate:"min=1,max=65535"`
	RelayStrategy     string        `validate:"oneof=fanout multicast"`
	HeartbeatPeriod   time.Duration `validate:"gt=0"`
	HeartbeatTimeout  time.Duration `validate:"gtfield=HeartbeatPeriod"`
	ServerHost        string        `validate:"required"`
	ClientTransport   string        `validate:"oneof=tcp grpc ws"`
	Clients           int           `validate:"min=1"`
	HeartbeatInterval time.Duration `validate:"gt=0"`
	StepInterval      time.Duration `validate:"gt=0"`
}

// ValidateEnv checks the resolved configuration.
func ValidateEnv() error {
	e := env{
		Env:               Env,
		LogLevel:          strings.ToLower(LogLevel),
		Port:              Port,
		HealthPort:        HealthPort,
		GRPCPort:          GRPCPort,
		PartySize:         PartySize,
		MaxGroups:         MaxGroups,
		RelayPool:         RelayPool,
		RelayBasePort:     RelayBasePort,
		RelayStrategy:     RelayStrategy,
		HeartbeatPeriod:   HeartbeatPeriod,
		HeartbeatTimeout:  HeartbeatTimeout,
		ServerHost:        ServerHost,
		ClientTransport:   ClientTransport,
		Clients:           Clients,
		HeartbeatInterval: HeartbeatInterval,
		StepInterval:      StepInterval,
	}
	if err := validate.Validate().Struct(e); err != nil {
		return errors.Wrap(err, "validate environment failed")
	}
	if RelayBasePort+len(RelayPool)-1 > 65535 {
		return errors.New("relay channels exceed the port range")
	}
	return nil
}
