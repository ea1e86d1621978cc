package cfg

import (
	"gridnet/internal"
	"gridnet/internal/app/apps"
)

// ServerIdentityCfg is configuration for the server's public identity.
type ServerIdentityCfg struct {
	name         string
	publicAddr   string
	registrarURL string
}

// NewServerIdentityCfg creates a new ServerIdentityCfg from the given values.
func NewServerIdentityCfg(name, publicAddr, registrarURL string) *ServerIdentityCfg {
	return &ServerIdentityCfg{
		name:         name,
		publicAddr:   publicAddr,
		registrarURL: registrarURL,
	}
}

// ServerIdentityFromEnv creates a new ServerIdentityCfg from the current environment.
func ServerIdentityFromEnv() *ServerIdentityCfg {
	return &ServerIdentityCfg{
		name:         internal.ServerName,
		publicAddr:   internal.PublicAddr,
		registrarURL: internal.RegistrarURL,
	}
}

// ApplyServerApp applies the ServerIdentityCfg to a ServerApp.
func (cfg ServerIdentityCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Name = cfg.name
	app.PublicAddr = cfg.publicAddr
	app.RegistrarURL = cfg.registrarURL
	return nil
}

// TargetCfg is configuration for the server address a client dials.
type TargetCfg struct {
	addr string
}

// NewTargetCfg creates a new TargetCfg from the given address.
func NewTargetCfg(addr string) *TargetCfg {
	return &TargetCfg{
		addr: addr,
	}
}

// TargetFromEnv creates a new TargetCfg from the current environment.
func TargetFromEnv() *TargetCfg {
	return &TargetCfg{
		addr: internal.ServerAddr,
	}
}

// ApplyClientApp applies the TargetCfg to a ClientApp.
func (cfg TargetCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.ServerAddr = cfg.addr
	return nil
}

// PlayerCfg is configuration for the client's display name.
type PlayerCfg struct {
	name string
}

// NewPlayerCfg creates a new PlayerCfg from the given name.
func NewPlayerCfg(name string) *PlayerCfg {
	return &PlayerCfg{
		name: name,
	}
}

// PlayerFromEnv creates a new PlayerCfg from the current environment.
func PlayerFromEnv() *PlayerCfg {
	return &PlayerCfg{
		name: internal.PlayerName,
	}
}

// ApplyClientApp applies the PlayerCfg to a ClientApp.
func (cfg PlayerCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.PlayerName = cfg.name
	return nil
}

// RoomCapacityCfg is configuration for the per-room occupancy bound.
type RoomCapacityCfg struct {
	capacity int
}

// NewRoomCapacityCfg creates a new RoomCapacityCfg from the given bound.
func NewRoomCapacityCfg(capacity int) *RoomCapacityCfg {
	return &RoomCapacityCfg{
		capacity: capacity,
	}
}

// RoomCapacityFromEnv creates a new RoomCapacityCfg from the current environment.
func RoomCapacityFromEnv() *RoomCapacityCfg {
	return &RoomCapacityCfg{
		capacity: internal.RoomCapacity,
	}
}

// ApplyServerApp applies the RoomCapacityCfg to a ServerApp.
func (cfg RoomCapacityCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.RoomCapacity = cfg.capacity
	return nil
}
