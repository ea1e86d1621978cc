package apps

import (
	"context"
	"fmt"

	"gridnet/internal/pkg/registrar"
	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/server"
	"gridnet/internal/pkg/validate"

	"github.com/pkg/errors"
)

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// ServerApp hosts a game server: it binds the UDP listen socket, serves
// the room registry, and optionally announces itself to a registrar.
type ServerApp struct {
	Name         string `validate:"required"`
	Port         uint16 `validate:"required"`
	PublicAddr   string
	RegistrarURL string `validate:"omitempty,url"`
	RoomCapacity int    `validate:"gte=0"`
	Policy       reliable.Policy
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if app.Policy == (reliable.Policy{}) {
		app.Policy = reliable.DefaultPolicy()
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// Run serves until ctx is cancelled or the listen socket fails.
func (app *ServerApp) Run(ctx context.Context, args []string) error {
	srv, err := server.NewServer(
		server.WithBindAddr(fmt.Sprintf(":%d", app.Port)),
		server.WithName(app.Name),
		server.WithPolicy(app.Policy),
		server.WithRoomCapacity(app.RoomCapacity),
	)
	if err != nil {
		return errors.Wrap(err, "create server failed")
	}

	if app.RegistrarURL != "" {
		if app.PublicAddr == "" {
			return errors.New("a public address is required when announcing to a registrar")
		}
		registrar.NewClient(app.RegistrarURL).Announce(ctx, registrar.Announcement{
			Name:       app.Name,
			PublicAddr: app.PublicAddr,
		})
	}

	if err := srv.Run(ctx); err != nil {
		return errors.Wrap(err, "run server failed")
	}
	return nil
}
