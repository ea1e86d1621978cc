package room

import (
	"fmt"
	"sync"
	"testing"

	"gridnet/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func member(name string) Member {
	return Member{UUID: uuid.New(), Name: name}
}

func TestCreateJoinLeave(t *testing.T) {
	t.Parallel()
	g := NewRegistry(8)
	alice := member("alice")
	bob := member("bob")

	roster, err := g.Create("TestRoom", alice)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, roster)

	roster, err = g.Join("TestRoom", bob)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, roster)

	roster, err = g.Leave("TestRoom", alice.UUID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, roster)

	roster, err = g.Leave("TestRoom", bob.UUID)
	require.NoError(t, err)
	require.Empty(t, roster)
	require.Zero(t, g.Len(), "empty room must be destroyed")
}

func TestCreateDuplicateName(t *testing.T) {
	t.Parallel()
	g := NewRegistry(8)
	_, err := g.Create("TestRoom", member("alice"))
	require.NoError(t, err)
	_, err = g.Create("TestRoom", member("bob"))
	require.ErrorIs(t, err, ErrRoomExists)
}

func TestRoomNamesCaseSensitive(t *testing.T) {
	t.Parallel()
	g := NewRegistry(8)
	_, err := g.Create("TestRoom", member("alice"))
	require.NoError(t, err)
	_, err = g.Create("testroom", member("bob"))
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())
}

func TestJoinMissingRoom(t *testing.T) {
	t.Parallel()
	g := NewRegistry(8)
	_, err := g.Join("nowhere", member("alice"))
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinFullRoom(t *testing.T) {
	t.Parallel()
	g := NewRegistry(2)
	_, err := g.Create("TestRoom", member("alice"))
	require.NoError(t, err)
	_, err = g.Join("TestRoom", member("bob"))
	require.NoError(t, err)
	_, err = g.Join("TestRoom", member("carol"))
	require.ErrorIs(t, err, ErrRoomFull)
	require.Len(t, g.Members("TestRoom"), 2, "failed join must not mutate the room")
}

func TestLeaveErrors(t *testing.T) {
	t.Parallel()
	g := NewRegistry(8)
	_, err := g.Leave("nowhere", uuid.New())
	require.ErrorIs(t, err, ErrRoomNotFound)

	_, err = g.Create("TestRoom", member("alice"))
	require.NoError(t, err)
	_, err = g.Leave("TestRoom", uuid.New())
	require.ErrorIs(t, err, ErrNotInRoom)
}

func TestListSnapshot(t *testing.T) {
	t.Parallel()
	g := NewRegistry(8)
	_, err := g.Create("beta", member("b"))
	require.NoError(t, err)
	_, err = g.Create("alpha", member("a"))
	require.NoError(t, err)
	_, err = g.Join("beta", member("c"))
	require.NoError(t, err)

	require.Equal(t, []wire.RoomInfo{
		{Name: "alpha", Occupants: 1},
		{Name: "beta", Occupants: 2},
	}, g.List())
}

func TestConcurrentCreateOneWinner(t *testing.T) {
	t.Parallel()
	g := NewRegistry(0)
	const n = 32
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Create("TestRoom", member(fmt.Sprintf("peer-%d", i)))
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrRoomExists)
		}
	}
	require.Equal(t, 1, won, "exactly one concurrent create may succeed")
	require.Len(t, g.Members("TestRoom"), 1)
}
