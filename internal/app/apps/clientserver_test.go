package apps

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"gridnet/internal/pkg/client"
	"gridnet/internal/pkg/reliable"
	"gridnet/internal/pkg/wire"

	"github.com/stretchr/testify/require"
)

func testPolicy() reliable.Policy {
	p := reliable.DefaultPolicy()
	p.RetransmitBase = 20 * time.Millisecond
	p.RetransmitCap = 80 * time.Millisecond
	p.HeartbeatInterval = 50 * time.Millisecond
	p.MissedThreshold = 20
	return p
}

type testServerCfg struct {
	port   uint16
	policy reliable.Policy
}

func (c testServerCfg) ApplyServerApp(app *ServerApp) error {
	app.Name = "loopback"
	app.Port = c.port
	app.RoomCapacity = 4
	app.Policy = c.policy
	return nil
}

// freeUDPPort grabs a port the kernel considers free right now.
func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return uint16(port)
}

func TestNewServerAppRequiresIdentity(t *testing.T) {
	_, err := NewServerApp()
	require.Error(t, err)
}

func TestNewClientAppRequiresTarget(t *testing.T) {
	_, err := NewClientApp()
	require.Error(t, err)
}

func TestClientServerLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freeUDPPort(t)
	app, err := NewServerApp(testServerCfg{port: port, policy: testPolicy()})
	require.NoError(t, err)
	go app.Run(ctx, nil) // nolint: errcheck

	c, err := client.NewClient(
		client.WithServerAddr(fmt.Sprintf("127.0.0.1:%d", port)),
		client.WithName("alice"),
		client.WithPolicy(testPolicy()),
		client.WithTickInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	clientErr := make(chan error, 1)
	go func() {
		clientErr <- c.Run(ctx)
	}()

	waitEvent := func(want wire.Kind) wire.Payload {
		deadline := time.After(5 * time.Second)
		for {
			select {
			case p := <-c.Events():
				if p.Kind() == want {
					return p
				}
			case err := <-clientErr:
				t.Fatalf("client exited early: %v", err)
			case <-deadline:
				t.Fatalf("timed out waiting for %s", want)
			}
		}
	}

	waitEvent(wire.KindConnectAck)

	require.NoError(t, execute(c, "new den"))
	ev := waitEvent(wire.KindRoomEvent).(*wire.RoomEvent)
	require.Equal(t, wire.EventCreated, ev.Event)
	require.Equal(t, "den", ev.Room)
	require.Equal(t, "den", c.Room())

	require.NoError(t, execute(c, "stats"))
	stats := waitEvent(wire.KindStatsResponse).(*wire.StatsResponse)
	require.Equal(t, "loopback", stats.ServerName)
	require.Equal(t, uint32(1), stats.Peers)
	require.Equal(t, uint32(1), stats.Rooms)

	require.Error(t, execute(c, "bogus"))

	require.NoError(t, c.Disconnect())
	select {
	case err := <-clientErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not shut down after disconnect")
	}
}
