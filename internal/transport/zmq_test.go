package transport

import (
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge-sync-go/internal/wire"
)

func zmqOptions(t *testing.T) Options {
	return Options{
		BindHost:       "127.0.0.1",
		DataPort:       freePort(t),
		CommandPort:    freePort(t),
		EnableCommands: true,
		ReplyTimeout:   time.Second,
	}
}

func TestZMQRepeatedOpenClose(t *testing.T) {
	opts := zmqOptions(t)
	for i := 0; i < 5; i++ {
		tr, err := OpenZMQ(opts, zap.NewNop())
		require.NoError(t, err, "cycle %d", i)
		require.NoError(t, tr.Publish(wire.TopicHeartbeat, []byte(`{}`)))
		require.NoError(t, tr.Close(), "cycle %d", i)
		assert.ErrorIs(t, tr.Publish(wire.TopicHeartbeat, []byte(`{}`)), ErrClosed)
	}
}

func TestZMQCommandRoundTrip(t *testing.T) {
	tr, err := OpenZMQ(zmqOptions(t), zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()
	answer(t, tr.Requests())

	reply, err := Call(tr.Info().CommandEndpoint, "", wire.Request{Action: wire.ActionPing}, 2*time.Second)
	require.NoError(t, err)
	h := decodeHeader(t, reply)
	assert.True(t, h.Success)
	assert.Equal(t, wire.ActionPing, h.Action)
}

func TestZMQCommandTimeout(t *testing.T) {
	opts := zmqOptions(t)
	opts.ReplyTimeout = 50 * time.Millisecond
	tr, err := OpenZMQ(opts, zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	reply, err := Call(tr.Info().CommandEndpoint, "", wire.Request{Action: wire.ActionStatus}, 2*time.Second)
	require.NoError(t, err)
	h := decodeHeader(t, reply)
	assert.False(t, h.Success)
	assert.Equal(t, wire.CodeTimeout, h.Code)
}

func TestZMQPublishSubscribe(t *testing.T) {
	tr, err := OpenZMQ(zmqOptions(t), zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	sub, err := Subscribe(tr.Info().DataEndpoint, "", wire.TopicEvent)
	require.NoError(t, err)
	defer sub.Close()

	payload := []byte(`{"type":"POSITION_OPENED","eventIndex":1}`)
	var topic wire.Topic
	var got []byte
	// PUB drops messages until the subscription has propagated.
	require.Eventually(t, func() bool {
		assert.NoError(t, tr.Publish(wire.TopicHeartbeat, []byte(`{}`)))
		assert.NoError(t, tr.Publish(wire.TopicEvent, payload))
		tp, b, ok, rerr := sub.Receive(20 * time.Millisecond)
		if rerr != nil || !ok {
			return false
		}
		topic, got = tp, b
		return true
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, wire.TopicEvent, topic)
	assert.Equal(t, payload, got)
}

func TestZMQCurve(t *testing.T) {
	if !zmq.HasCurve() {
		opts := zmqOptions(t)
		opts.EnableEncryption = true
		_, err := OpenZMQ(opts, zap.NewNop())
		assert.ErrorIs(t, err, ErrEncryptionUnavailable)
		return
	}

	opts := zmqOptions(t)
	opts.EnableEncryption = true
	tr, err := OpenZMQ(opts, zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()
	answer(t, tr.Requests())

	info := tr.Info()
	assert.True(t, info.CurveEnabled)
	assert.Len(t, info.CurvePublicKey, 40)

	reply, err := Call(info.CommandEndpoint, info.CurvePublicKey, wire.Request{Action: wire.ActionPing}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, decodeHeader(t, reply).Success)

	_, err = Call(info.CommandEndpoint, "", wire.Request{Action: wire.ActionPing}, 200*time.Millisecond)
	assert.Error(t, err, "plaintext clients cannot reach a CURVE server")

	second, err := OpenZMQ(zmqOptions(t), zap.NewNop())
	require.NoError(t, err)
	defer second.Close()
	assert.Empty(t, second.Info().CurvePublicKey)
}
