package comando_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/stompy/pkg/comando"
	"github.com/gwillem/stompy/pkg/comando/comandotest"
)

var table = comando.MustTable(
	comando.Command{ID: 0, Name: "heartbeat"},
	comando.Command{ID: 1, Name: "estop", Args: []comando.Type{comando.Byte}, Returns: []comando.Type{comando.Byte}},
	comando.Command{ID: 3, Name: "plan", Args: []comando.Type{comando.Byte, comando.Byte}, Variadic: true, Rest: comando.Float},
	comando.Command{ID: 6, Name: "leg_number", Args: []comando.Type{comando.Byte}, Returns: []comando.Type{comando.Byte}},
	comando.Command{ID: 24, Name: "report_xyz", Returns: []comando.Type{comando.Float, comando.Float, comando.Float}},
)

func TestFrame_RoundTrip(t *testing.T) {
	frame, err := comando.CommandFrame(1, comando.ByteValue(2))
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 0, 1, 2, 3}, frame)

	payload, n, err := comando.NextFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, []byte{0, 1, 2}, payload)
}

func TestNextFrame_Partial(t *testing.T) {
	frame, err := comando.CommandFrame(24, comando.FloatValue(1), comando.FloatValue(2), comando.FloatValue(3))
	require.NoError(t, err)

	for i := range len(frame) - 1 {
		_, n, err := comando.NextFrame(frame[:i])
		assert.NoError(t, err)
		assert.Zero(t, n, "prefix of %d bytes", i)
	}
}

func TestNextFrame_Checksum(t *testing.T) {
	frame, err := comando.CommandFrame(1, comando.ByteValue(2))
	require.NoError(t, err)
	frame[len(frame)-1]++

	_, n, err := comando.NextFrame(frame)
	assert.ErrorIs(t, err, comando.ErrChecksum)
	assert.Equal(t, len(frame), n, "corrupt frame is consumed")
}

func TestEncodeFrame_Limits(t *testing.T) {
	_, err := comando.EncodeFrame(nil)
	assert.ErrorIs(t, err, comando.ErrMalformed)
	_, err = comando.EncodeFrame(make([]byte, comando.MaxPayload+1))
	assert.ErrorIs(t, err, comando.ErrMalformed)
}

func TestDecodeArgs(t *testing.T) {
	data := comando.EncodeArgs(
		comando.ByteValue(7),
		comando.BoolValue(true),
		comando.Int32Value(-5),
		comando.Uint32Value(1000),
		comando.FloatValue(0.25),
	)
	vals, err := comando.DecodeArgs([]comando.Type{comando.Byte, comando.Bool, comando.Int32, comando.Uint32, comando.Float}, data)
	require.NoError(t, err)
	assert.Equal(t, 7, vals[0].Int())
	assert.True(t, vals[1].Bool())
	assert.Equal(t, -5, vals[2].Int())
	assert.Equal(t, 1000, vals[3].Int())
	assert.InDelta(t, 0.25, vals[4].Float(), 1e-9)

	_, err = comando.DecodeArgs([]comando.Type{comando.Float}, []byte{1, 2})
	assert.ErrorIs(t, err, comando.ErrMalformed)
	_, err = comando.DecodeArgs(nil, []byte{1})
	assert.ErrorIs(t, err, comando.ErrMalformed)
}

func TestConn_Trigger(t *testing.T) {
	port := comandotest.NewPort()
	conn := comando.NewConn(port, table)

	require.NoError(t, conn.Trigger("heartbeat"))
	require.NoError(t, conn.Trigger("plan", comando.ByteValue(3), comando.ByteValue(2),
		comando.FloatValue(1), comando.FloatValue(2), comando.FloatValue(3), comando.FloatValue(4)))

	frames := port.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0, 0}, frames[0])
	assert.Equal(t, []byte{0, 3, 3, 2}, frames[1][:4])
	assert.Len(t, frames[1], 4+4*4)
}

func TestConn_TriggerChecksArgs(t *testing.T) {
	conn := comando.NewConn(comandotest.NewPort(), table)

	assert.ErrorIs(t, conn.Trigger("estop", comando.FloatValue(1)), comando.ErrBadArgs)
	assert.ErrorIs(t, conn.Trigger("estop", comando.ByteValue(1), comando.ByteValue(1)), comando.ErrBadArgs)
	assert.ErrorIs(t, conn.Trigger("plan", comando.ByteValue(0), comando.ByteValue(2), comando.ByteValue(0)), comando.ErrBadArgs)
	assert.ErrorIs(t, conn.Trigger("nope"), comando.ErrUnknownCommand)
}

func TestConn_HandleStream(t *testing.T) {
	port := comandotest.NewPort()
	conn := comando.NewConn(port, table)

	var got [][]float64
	require.NoError(t, conn.On("report_xyz", func(args []comando.Value) {
		got = append(got, []float64{args[0].Float(), args[1].Float(), args[2].Float()})
	}))
	var texts []string
	conn.OnText(func(msg string) { texts = append(texts, msg) })

	f1, _ := comando.CommandFrame(24, comando.FloatValue(1), comando.FloatValue(2), comando.FloatValue(3))
	f2, _ := comando.CommandFrame(24, comando.FloatValue(4), comando.FloatValue(5), comando.FloatValue(6))
	text, _ := comando.TextFrame("hello")

	// The second frame arrives split across two reads.
	port.Inject(f1, text, f2[:3])
	require.NoError(t, conn.HandleStream())
	assert.Equal(t, [][]float64{{1, 2, 3}}, got)
	assert.Equal(t, []string{"hello"}, texts)
	assert.Len(t, conn.Buffered(), 3)

	port.Inject(f2[3:])
	require.NoError(t, conn.HandleStream())
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, got)
	assert.Empty(t, conn.Buffered())
}

func TestConn_HandleStreamErrors(t *testing.T) {
	port := comandotest.NewPort()
	conn := comando.NewConn(port, table)

	bad, _ := comando.CommandFrame(99)
	port.Inject(bad)
	assert.ErrorIs(t, conn.HandleStream(), comando.ErrUnknownCommand)

	short, _ := comando.EncodeFrame([]byte{0, 24, 1, 2})
	port.Inject(short)
	assert.ErrorIs(t, conn.HandleStream(), comando.ErrMalformed)

	// The stream recovers after a bad frame.
	good, _ := comando.CommandFrame(1, comando.ByteValue(0))
	port.Inject(good)
	assert.NoError(t, conn.HandleStream())
}

func TestConn_BlockingTrigger(t *testing.T) {
	port := comandotest.NewPort()
	conn := comando.NewConn(port, table)

	var estops []int
	require.NoError(t, conn.On("estop", func(args []comando.Value) {
		estops = append(estops, args[0].Int())
	}))

	port.OnFrame(func(payload []byte) {
		if payload[1] != 6 {
			return
		}
		// An unrelated report arrives before the answer.
		_ = port.InjectCommand(1, comando.ByteValue(2))
		_ = port.InjectCommand(6, comando.ByteValue(4))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	vals, err := conn.BlockingTrigger(ctx, "leg_number")
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, 4, vals[0].Int())
	assert.Equal(t, []int{2}, estops)
}

func TestConn_BlockingTriggerTimeout(t *testing.T) {
	conn := comando.NewConn(comandotest.NewPort(), table)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := conn.BlockingTrigger(ctx, "leg_number")
	assert.ErrorIs(t, err, comando.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTable(t *testing.T) {
	_, err := comando.NewTable(
		comando.Command{ID: 1, Name: "a"},
		comando.Command{ID: 1, Name: "b"},
	)
	assert.Error(t, err)

	assert.Equal(t, []string{"heartbeat", "estop", "plan", "leg_number", "report_xyz"}, table.Names())
}
