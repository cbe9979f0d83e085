package notify

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

type memorySink struct {
	mu   sync.Mutex
	got  []*types.Notification
	fail bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Send(n *types.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, n)
	if m.fail {
		return errors.New("unreachable")
	}
	return nil
}

type stateCounter struct {
	states []types.SessionState
}

func (s *stateCounter) SessionStateEntered(state types.SessionState) {
	s.states = append(s.states, state)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	failing := &memorySink{fail: true}
	sink := &memorySink{}
	observer := &stateCounter{}
	d := NewDispatcher(nil, observer, failing, sink)

	d.Render(types.SessionSnapshot{State: types.StateSelectApps})
	d.Render(types.SessionSnapshot{State: types.StateSelectApps, SelectedApps: []string{"a"}})
	d.Render(types.SessionSnapshot{State: types.StateJoinNetwork, LastError: "x"})
	d.Render(types.SessionSnapshot{State: types.StateJoinNetwork, Closed: true})
	d.Close()

	require.Len(t, sink.got, 4)
	assert.Len(t, failing.got, 4, "a failing sink does not stop delivery")
	assert.Equal(t, types.NotifyTypeSessionState, sink.got[0].Type)
	assert.Equal(t, "x", sink.got[2].Message)
	assert.Equal(t, types.NotifyTypeSessionClosed, sink.got[3].Type)
	assert.Equal(t, []types.SessionState{types.StateSelectApps, types.StateJoinNetwork}, observer.states)
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(nil, nil, sink)
	d.Close()
	d.Notify(&types.Notification{Type: "late"})
	d.Close()
	assert.Empty(t, sink.got)
}

func TestSocketSinkFraming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan types.Notification, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var size uint32
		if err := binary.Read(conn, binary.LittleEndian, &size); err != nil {
			return
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		var n types.Notification
		_ = sonic.Unmarshal(buf, &n)
		received <- n
		_, _ = conn.Write([]byte(`{"ok":true}`))
	}()

	s := NewSocketSink(path, nil)
	require.NoError(t, s.Send(&types.Notification{Type: types.NotifyTypePermissionRequest, Title: "Enable Bluetooth?"}))
	n := <-received
	assert.Equal(t, types.NotifyTypePermissionRequest, n.Type)
	assert.Equal(t, "Enable Bluetooth?", n.Title)
}

func TestSocketSinkMissingSocket(t *testing.T) {
	s := NewSocketSink(filepath.Join(t.TempDir(), "absent.sock"), nil)
	assert.Error(t, s.Send(&types.Notification{Type: "x"}))
}
