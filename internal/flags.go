// Package internal holds the process-wide configuration surface: flag
// definitions backed by GRIDNET_* environment variables, and the resolved
// values the rest of the application reads.
package internal

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Resolved configuration values. Populated by RegisterCommandFlags with the
// precedence flag > environment > default, then checked by ValidateEnv.
var (
	Env      string
	LogLevel string

	// Port is the server UDP listen port.
	Port int

	// ServerName is the display name a server advertises.
	ServerName string

	// PublicAddr is the optional public address announced to the
	// registrar; empty keeps the server private.
	PublicAddr string

	// RegistrarURL is the optional registrar endpoint.
	RegistrarURL string

	// ServerAddr is the target address a client connects to.
	ServerAddr string

	// PlayerName is the client's display name.
	PlayerName string

	// TimingFile is an optional TOML file overriding protocol timing.
	TimingFile string

	// RoomCapacity bounds occupants per room; 0 means unbounded.
	RoomCapacity int
)

// Flag declares one configuration knob. Exactly one of the targets is set.
type Flag struct {
	Name   string
	EnvVar string
	Usage  string

	StringDefault string
	StringTarget  *string

	IntDefault int
	IntTarget  *int
}

var (
	EnvFlag = Flag{
		Name: "env", EnvVar: "GRIDNET_ENV", Usage: "deployment environment",
		StringDefault: "development", StringTarget: &Env,
	}
	LogLevelFlag = Flag{
		Name: "log-level", EnvVar: "GRIDNET_LOG_LEVEL", Usage: "log verbosity (trace|debug|info|warn|error)",
		StringDefault: "info", StringTarget: &LogLevel,
	}
	PortFlag = Flag{
		Name: "port", EnvVar: "GRIDNET_PORT", Usage: "server UDP listen port",
		IntDefault: 2016, IntTarget: &Port,
	}
	ServerNameFlag = Flag{
		Name: "name", EnvVar: "GRIDNET_SERVER_NAME", Usage: "server display name",
		StringDefault: "gridnet server", StringTarget: &ServerName,
	}
	PublicAddrFlag = Flag{
		Name: "public-addr", EnvVar: "GRIDNET_PUBLIC_ADDR", Usage: "public address announced to the registrar",
		StringTarget: &PublicAddr,
	}
	RegistrarURLFlag = Flag{
		Name: "registrar-url", EnvVar: "GRIDNET_REGISTRAR_URL", Usage: "registrar endpoint for public listing",
		StringTarget: &RegistrarURL,
	}
	ServerAddrFlag = Flag{
		Name: "server", EnvVar: "GRIDNET_SERVER_ADDR", Usage: "server address to connect to",
		StringDefault: "127.0.0.1:2016", StringTarget: &ServerAddr,
	}
	PlayerNameFlag = Flag{
		Name: "player", EnvVar: "GRIDNET_PLAYER_NAME", Usage: "player display name",
		StringDefault: "anonymous", StringTarget: &PlayerName,
	}
	TimingFileFlag = Flag{
		Name: "timing-config", EnvVar: "GRIDNET_TIMING_CONFIG", Usage: "TOML file overriding protocol timing",
		StringTarget: &TimingFile,
	}
	RoomCapacityFlag = Flag{
		Name: "room-capacity", EnvVar: "GRIDNET_ROOM_CAPACITY", Usage: "max occupants per room (0 = unbounded)",
		IntDefault: 16, IntTarget: &RoomCapacity,
	}
)

// RegisterCommandFlags binds flags to the command, seeding each default
// from its environment variable when set.
func RegisterCommandFlags(cmd *cobra.Command, flags []*Flag) error {
	for _, f := range flags {
		switch {
		case f.StringTarget != nil:
			cmd.PersistentFlags().StringVar(f.StringTarget, f.Name, envStringOr(f.EnvVar, f.StringDefault), f.Usage)
		case f.IntTarget != nil:
			def, err := envIntOr(f.EnvVar, f.IntDefault)
			if err != nil {
				return errors.Wrapf(err, "parse %s failed", f.EnvVar)
			}
			cmd.PersistentFlags().IntVar(f.IntTarget, f.Name, def, f.Usage)
		default:
			return errors.Errorf("flag %s has no target", f.Name)
		}
	}
	return nil
}

func envStringOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
