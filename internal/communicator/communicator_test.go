package communicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/devicechannel"
	"github.com/nerrad567/gray-logic-hub/internal/notify"
	"github.com/nerrad567/gray-logic-hub/internal/presence"
)

// ============================================================================
// Test doubles
// ============================================================================

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) ConnectionOpened(c presence.Connection) { o.add("open:" + c.ConnectionID) }
func (o *recordingObserver) ConnectionClosed(c presence.Connection) { o.add("close:" + c.ConnectionID) }
func (o *recordingObserver) DeviceOnline(id int64, addr string)     { o.add("online:" + addr) }
func (o *recordingObserver) DeviceOffline(id int64)                 { o.add("offline") }

func (o *recordingObserver) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type capturePusher struct {
	mu  sync.Mutex
	got map[string]notify.Message
}

func (p *capturePusher) Push(_ context.Context, id string, msg notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got == nil {
		p.got = make(map[string]notify.Message)
	}
	p.got[id] = msg
	return nil
}

type stream struct{ addr string }

func (s stream) Context() context.Context { return context.Background() }
func (s stream) RemoteAddr() string       { return s.addr }

func equalEvents(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Tests
// ============================================================================

func TestConnectionLifecycle(t *testing.T) {
	c := New(Options{})
	obs := &recordingObserver{}
	c.AddObserver(obs)

	c.RegisterConnection(5, "c1", "198.51.100.1:4000")
	if !c.IsUserOnline(5) {
		t.Fatal("user 5 should be online")
	}
	if ids := c.OnlineUserIDs(); len(ids) != 1 || ids[0] != 5 {
		t.Errorf("OnlineUserIDs() = %v, want [5]", ids)
	}

	if !c.UnregisterConnection("c1") {
		t.Error("UnregisterConnection(c1) = false, want true")
	}
	if c.UnregisterConnection("c1") {
		t.Error("second UnregisterConnection(c1) = true, want false")
	}
	if conns := c.UserConnections(5); len(conns) != 0 {
		t.Errorf("UserConnections(5) = %v, want empty", conns)
	}

	want := []string{"open:c1", "close:c1"}
	if got := obs.list(); !equalEvents(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestGroupMembershipAndNotify(t *testing.T) {
	pusher := &capturePusher{}
	c := New(Options{Pusher: pusher})

	c.RegisterConnection(5, "c1", "")
	c.RegisterConnection(5, "c2", "")
	c.RegisterConnection(6, "d1", "")

	c.AddUserToGroups(5, "A")
	c.AddConnectionToGroups("d1", "device-7-status")

	if got := len(c.ConnectionsByGroup("A")); got != 2 {
		t.Errorf("ConnectionsByGroup(A) len = %d, want 2", got)
	}
	if got := c.ConnectionsByTemplates("device-7-*"); len(got) != 1 || got[0].ConnectionID != "d1" {
		t.Errorf("ConnectionsByTemplates(device-7-*) = %v, want [d1]", got)
	}

	n, err := c.NotifyForEntity(context.Background(), notify.EntityRef{Kind: "device", ID: 7}, "status", "ok")
	if err != nil || n != 1 {
		t.Errorf("NotifyForEntity() = (%d, %v), want (1, nil)", n, err)
	}

	c.RemoveUserFromGroups(5, "A")
	if got := len(c.ConnectionsByGroup("A")); got != 0 {
		t.Errorf("ConnectionsByGroup(A) after removal len = %d, want 0", got)
	}

	c.RemoveConnectionFromGroups("d1", "device-7-status")
	if got := c.Groups(); len(got) != 0 {
		t.Errorf("Groups() = %v, want none", got)
	}

	if n, _ := c.NotifyUser(context.Background(), 5, "hello", nil); n != 2 {
		t.Errorf("NotifyUser(5) = %d, want 2", n)
	}
	if err := c.NotifyConnection(context.Background(), "d1", 7, "ping", nil); err != nil {
		t.Errorf("NotifyConnection() error = %v", err)
	}
	if got := pusher.got["d1"].Method; got != "ping" {
		t.Errorf("last message to d1 = %q, want ping", got)
	}
}

func TestNotifyGroup_PusherSetLater(t *testing.T) {
	c := New(Options{})
	c.RegisterConnection(1, "c1", "")
	c.AddConnectionToGroups("c1", "g")

	if _, err := c.NotifyGroup(context.Background(), "g", "m", nil); !errors.Is(err, notify.ErrNoPusher) {
		t.Errorf("NotifyGroup() error = %v, want ErrNoPusher", err)
	}

	c.SetPusher(&capturePusher{})
	if n, err := c.NotifyGroup(context.Background(), "g", "m", nil); err != nil || n != 1 {
		t.Errorf("NotifyGroup() = (%d, %v), want (1, nil)", n, err)
	}
}

func TestDeviceChannelLifecycle(t *testing.T) {
	c := New(Options{QueueCapacity: 2})
	obs := &recordingObserver{}
	c.AddObserver(obs)

	if _, err := c.DeviceStream(7); !errors.Is(err, devicechannel.ErrNotRegistered) {
		t.Errorf("DeviceStream(7) error = %v, want ErrNotRegistered", err)
	}
	if c.EnqueuePayload(7, []byte("x")) {
		t.Error("EnqueuePayload to offline device = true, want false")
	}

	ch := c.RegisterDeviceChannel(7, stream{addr: "203.0.113.7:9000"}, 0)
	if !c.IsDeviceOnline(7) {
		t.Fatal("device 7 should be online")
	}
	if got := ch.Capacity(); got != 2 {
		t.Errorf("Capacity() = %d, want 2", got)
	}

	for _, s := range []string{"A", "B", "C"} {
		c.EnqueuePayload(7, []byte(s))
	}

	for _, want := range []string{"B", "C"} {
		p, err := c.NextMessage(context.Background(), 7)
		if err != nil {
			t.Fatalf("NextMessage() error = %v", err)
		}
		data, _ := p(context.Background())
		if string(data) != want {
			t.Errorf("NextMessage() = %q, want %q", data, want)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.NextMessage(context.Background(), 7)
		done <- err
	}()
	deadline := time.Now().Add(time.Second)
	for !ch.Waiting() {
		if time.Now().After(deadline) {
			t.Fatal("NextMessage never parked")
		}
		time.Sleep(time.Millisecond)
	}

	c.StopDevice(7)
	select {
	case err := <-done:
		if !errors.Is(err, devicechannel.ErrStopped) {
			t.Errorf("NextMessage() error = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not release the waiter")
	}

	if !c.ReleaseDeviceChannel(ch) {
		t.Error("ReleaseDeviceChannel() = false, want true")
	}
	if c.UnregisterDeviceChannel(7) {
		t.Error("UnregisterDeviceChannel after release = true, want false")
	}

	want := []string{"online:203.0.113.7:9000", "offline"}
	if got := obs.list(); !equalEvents(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestEnqueuePayload_CopiesInput(t *testing.T) {
	c := New(Options{})
	c.RegisterDeviceChannel(1, stream{}, 0)

	buf := []byte("orig")
	c.EnqueuePayload(1, buf)
	copy(buf, "XXXX")

	p, err := c.NextMessage(context.Background(), 1)
	if err != nil {
		t.Fatalf("NextMessage() error = %v", err)
	}
	if data, _ := p(context.Background()); string(data) != "orig" {
		t.Errorf("payload = %q, want orig", data)
	}
}

func TestStats(t *testing.T) {
	c := New(Options{})
	c.RegisterConnection(1, "a", "")
	c.RegisterConnection(2, "b", "")
	c.AddConnectionToGroups("a", "g")
	c.RegisterDeviceChannel(3, stream{}, 0)
	c.EnqueuePayload(3, []byte("x"))

	s := c.Stats()
	if s.Presence.Connections != 2 || s.Presence.OnlineUsers != 2 || s.Presence.Groups != 1 {
		t.Errorf("Presence = %+v", s.Presence)
	}
	if s.Devices.Channels != 1 || s.Devices.Queued != 1 {
		t.Errorf("Devices = %+v", s.Devices)
	}
	if infos := c.DeviceChannels(); len(infos) != 1 || infos[0].DeviceID != 3 {
		t.Errorf("DeviceChannels() = %+v", infos)
	}
	if ids := c.OnlineDeviceIDs(); len(ids) != 1 || ids[0] != 3 {
		t.Errorf("OnlineDeviceIDs() = %v", ids)
	}
	if _, ok := c.Connection("a"); !ok {
		t.Error("Connection(a) not found")
	}
	if got := c.ConnectionsByGroups("g", "missing"); len(got) != 1 {
		t.Errorf("ConnectionsByGroups() len = %d, want 1", len(got))
	}
}
