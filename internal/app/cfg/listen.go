// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types.
//
// In order to add support for a new type, the configuration
// need only implement an ApplyX method.
package cfg

import (
	"gridnet/internal"
	"gridnet/internal/app/apps"
)

// ListenCfg is configuration for the server UDP listen port.
type ListenCfg struct {
	port uint16
}

// NewListenCfg creates a new ListenCfg from the given port.
func NewListenCfg(port uint16) *ListenCfg {
	return &ListenCfg{
		port: port,
	}
}

// ListenFromEnv creates a new ListenCfg from the current environment.
func ListenFromEnv() *ListenCfg {
	return &ListenCfg{
		port: uint16(internal.Port),
	}
}

// ApplyServerApp applies the ListenCfg to a ServerApp.
func (cfg ListenCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Port = cfg.port
	return nil
}
