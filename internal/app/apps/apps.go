// Package apps implements the runnable applications behind the CLI
// commands: the game server and the interactive console client.
package apps

import "context"

// App is a runnable application.
type App interface {
	Run(ctx context.Context, args []string) error
}
