package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/robot"
	"github.com/gwillem/stompy/pkg/walk"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testState() walk.State {
	return walk.State{
		Body: gait.Snapshot{
			Enabled: true,
			Target:  gait.Target{RotationCenter: [2]float64{0, 1000}, Speed: 0.002},
		},
		Timestamp: epoch,
		Legs: map[int]walk.LegState{
			robot.RearRight:  {Name: "rr", Estop: leg.EstopHold, Foot: gait.StateLift, Restriction: 0.7},
			robot.FrontRight: {
				Name:        "fr",
				Foot:        gait.StateStance,
				Restriction: 0.25,
				XYZ:         leg.Stamped[r3.Vec]{Value: r3.Vec{X: 45, Y: 1, Z: -42}, Time: epoch},
			},
		},
		Error: errors.New("leg rr: stream broke"),
	}
}

func TestFromState(t *testing.T) {
	got := FromState(testState())
	want := Message{
		Timestamp: float64(epoch.Unix()),
		Enabled:   true,
		Target:    Target{Center: [2]float64{0, 1000}, Speed: 0.002},
		Legs: []Leg{
			{Number: 1, Name: "fr", Estop: "off", Foot: "stance", Restriction: 0.25, XYZ: [3]float64{45, 1, -42}},
			{Number: 3, Name: "rr", Estop: "hold", Foot: "lift", Restriction: 0.7},
		},
		Error: "leg rr: stream broke",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromState mismatch (-want +got):\n%s", diff)
	}
}

func TestHub(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(FromState(testState())))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	require.NoError(t, ws.ReadJSON(&got))
	assert.True(t, got.Enabled)
	require.Len(t, got.Legs, 2)
	assert.Equal(t, "rr", got.Legs[1].Name)

	resp, err = http.Get(srv.URL + "/state")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"foot":"lift"`)

	hub.Close()
	assert.Zero(t, hub.Clients())
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "closing the hub disconnects monitors")
}

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} { c := make(chan struct{}); close(c); return c }
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return fakeToken{err: b.err}
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	b.disconnected = true
	b.mu.Unlock()
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.msgs {
		out = append(out, m.topic)
	}
	return out
}

func TestMQTT_Send(t *testing.T) {
	b := &fakeBroker{}
	m := NewMQTT(b, "")
	require.NoError(t, m.Send(FromState(testState())))

	require.Len(t, b.msgs, 1)
	assert.Equal(t, "stompy/state", b.msgs[0].topic)
	assert.False(t, b.msgs[0].retained)
	var got Message
	require.NoError(t, json.Unmarshal(b.msgs[0].payload, &got))
	assert.Equal(t, FromState(testState()), got)

	b.err = errors.New("not connected")
	assert.Error(t, m.Send(Message{}))

	m.Close()
	assert.True(t, b.disconnected)
}

func TestMQTT_AttachPublishesFootStates(t *testing.T) {
	clk := clock.NewMock(epoch)
	timing := leg.NewTiming()
	feet := make(map[int]gait.Foot)
	for _, n := range []int{robot.FrontRight, robot.MiddleLeft} {
		s, err := leg.NewSim(n, leg.Options{Clock: clk, Timing: timing, Noise: -1})
		require.NoError(t, err)
		feet[n] = gait.NewLegFoot(s, gait.DefaultConfig(), timing, clk)
	}
	body, err := gait.NewBody(feet, gait.DefaultConfig(), clk)
	require.NoError(t, err)
	defer body.Close()

	b := &fakeBroker{}
	m := NewMQTT(b, "walker")
	detach := m.Attach(body)
	body.Enable(nil)
	detach()
	body.Disable()

	assert.ElementsMatch(t, []string{"walker/legs/fr/foot", "walker/legs/ml/foot"}, b.topics())
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range b.msgs {
		assert.True(t, msg.retained)
		var fm FootMessage
		require.NoError(t, json.Unmarshal(msg.payload, &fm))
		assert.Equal(t, "stance", fm.State)
		assert.Equal(t, "none", fm.Previous)
	}
}

type countSink struct {
	mu sync.Mutex
	n  int
}

func (s *countSink) Send(Message) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return errors.New("ignored")
}

func (s *countSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestRun(t *testing.T) {
	sink := &countSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, 5*time.Millisecond, testState, sink)
	}()
	assert.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"a failing sink keeps receiving")
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
