package apps

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"gridnet/internal/pkg/client"
	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/validate"
	"gridnet/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ClientAppCfg configures a ClientApp.
type ClientAppCfg interface {
	ApplyClientApp(*ClientApp) error
}

// ClientApp is the interactive console client. It connects to a server,
// prints protocol events, and turns stdin lines into room commands.
type ClientApp struct {
	ServerAddr string `validate:"required,hostname_port"`
	PlayerName string `validate:"required"`
	Policy     reliable.Policy
}

// NewClientApp creates a new ClientApp.
func NewClientApp(cfgs ...ClientAppCfg) (*ClientApp, error) {
	app := &ClientApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyClientApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ClientApp cfg failed")
		}
	}
	if app.Policy == (reliable.Policy{}) {
		app.Policy = reliable.DefaultPolicy()
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ClientApp failed")
	}
	return app, nil
}

// Run connects and drives the console loop until the session ends,
// stdin closes, or ctx is cancelled.
func (app *ClientApp) Run(ctx context.Context, args []string) error {
	c, err := client.NewClient(
		client.WithServerAddr(app.ServerAddr),
		client.WithName(app.PlayerName),
		client.WithPolicy(app.Policy),
	)
	if err != nil {
		return errors.Wrap(err, "create client failed")
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
	}()
	go printEvents(ctx, c.Events())

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case err := <-runErr:
			return errors.Wrap(err, "run client failed")
		case line, ok := <-lines:
			if !ok || line == "quit" {
				if err := c.Disconnect(); err != nil {
					return nil // session already gone
				}
				return errors.Wrap(<-runErr, "run client failed")
			}
			if err := execute(c, line); err != nil {
				logrus.WithError(err).Warn("command failed")
			}
		}
	}
}

// execute maps one console line onto a client operation.
func execute(c *client.Client, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "list":
		return c.ListRooms()
	case "new":
		if rest == "" {
			return errors.New("usage: new <room>")
		}
		return c.NewRoom(rest)
	case "join":
		if rest == "" {
			return errors.New("usage: join <room>")
		}
		return c.JoinRoom(rest)
	case "leave":
		return c.LeaveRoom()
	case "chat":
		if rest == "" {
			return errors.New("usage: chat <text>")
		}
		return c.Chat(rest)
	case "stats":
		return c.QueryStats()
	case "":
		return nil
	default:
		return errors.Errorf("unknown command %q (list|new|join|leave|chat|stats|quit)", cmd)
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func printEvents(ctx context.Context, events <-chan wire.Payload) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-events:
			printEvent(p)
		}
	}
}

func printEvent(p wire.Payload) {
	switch v := p.(type) {
	case *wire.RoomEvent:
		logrus.WithFields(logrus.Fields{
			"room":   v.Room,
			"player": v.Player,
		}).Infof("room %s", v.Event)
	case *wire.ChatRelay:
		logrus.Infof("<%s> %s", v.Sender, v.Text)
	case *wire.RoomList:
		for _, r := range v.Rooms {
			logrus.WithField("occupants", r.Occupants).Info(r.Name)
		}
		if len(v.Rooms) == 0 {
			logrus.Info("no rooms")
		}
	case *wire.StatsResponse:
		logrus.WithFields(logrus.Fields{
			"peers":         v.Peers,
			"rooms":         v.Rooms,
			"sent":          v.Counters.Sent,
			"received":      v.Counters.Received,
			"retransmitted": v.Counters.Retransmitted,
			"dropped":       v.Counters.Dropped,
		}).Infof("server %s", v.ServerName)
	case *wire.ErrorReply:
		logrus.WithField("code", v.Code.String()).Warn(v.Detail)
	}
}
