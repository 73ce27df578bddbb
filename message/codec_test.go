package message

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexitosrv/atlas/errors"
)

func TestNewCodec(t *testing.T) {
	codec, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, "json", codec.Name())

	codec, err = NewCodec("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", codec.Name())
	assert.Equal(t, "application/msgpack", codec.ContentType())

	_, err = NewCodec("protobuf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestCodecs_PreserveNonFiniteValues(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)

			dp := testDatapoint()
			dp.Value = math.NaN()
			msg := FromDatapoint(dp, "conn-1")

			data, err := codec.Encode(msg)
			require.NoError(t, err)

			decoded, err := codec.Decode(data)
			require.NoError(t, err)
			assert.True(t, math.IsNaN(float64(decoded.Value)))
			assert.Equal(t, msg.ID, decoded.ID)
			assert.Equal(t, msg.Tags, decoded.Tags)
			assert.Equal(t, msg.StepMillis, decoded.StepMillis)
		})
	}
}

func TestJSONCodec_Encode(t *testing.T) {
	msg := FromDatapoint(testDatapoint(), "")
	msg.ID = "fixed"

	data, err := JSONCodec{}.Encode(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "fixed",
		"type": "atlas.datapoint.v1",
		"timestamp": 1700000000000,
		"time": "2023-11-14T22:13:20Z",
		"step": 60000,
		"expression": "name,cpu,:eq",
		"source": "3",
		"tags": {"host": "i-1"},
		"value": 0.25
	}`, string(data))
}

func TestMsgpackCodec_SkipsDisplayTime(t *testing.T) {
	msg := FromDatapoint(testDatapoint(), "")

	data, err := MsgpackCodec{}.Encode(msg)
	require.NoError(t, err)

	decoded, err := MsgpackCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.Time)
	assert.Equal(t, msg.Timestamp, decoded.Timestamp)
}

func TestCodecs_DecodeGarbage(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte("{"))
	assert.True(t, errors.IsInvalid(err))

	_, err = MsgpackCodec{}.Decode([]byte{0xc1})
	assert.True(t, errors.IsInvalid(err))
}
