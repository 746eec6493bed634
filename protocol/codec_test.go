package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/encodeous/dvrouter/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireFormat(t *testing.T) {
	out, err := Encode(NewHello("A"))
	require.NoError(t, err)
	assert.Equal(t, "From:A\nType:HELLO\n", string(out))

	out, err = Encode(NewWelcome("B"))
	require.NoError(t, err)
	assert.Equal(t, "From:B\nType:WELCOME\n", string(out))

	out, err = Encode(NewKeepAlive("B"))
	require.NoError(t, err)
	assert.Equal(t, "From:B\nType:KEEP_ALIVE\n", string(out))

	out, err = Encode(NewDv("A", map[state.NodeId]float64{"Y": 7, "X": 3}))
	require.NoError(t, err)
	assert.Equal(t, "From:A\nType:DV\nLen:2\nX:3\nY:7\n", string(out))

	out, err = Encode(NewDv("A", nil))
	require.NoError(t, err)
	assert.Equal(t, "From:A\nType:DV\nLen:0\n", string(out))
}

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		NewHello("A"),
		NewWelcome("node-2"),
		NewKeepAlive("C"),
		NewDv("A", map[state.NodeId]float64{}),
		NewDv("A", map[state.NodeId]float64{"X": 3, "Y": 7}),
		NewDv("router.1", map[state.NodeId]float64{"a": 0.25, "b": -4, "c": 99}),
		NewDv("A", map[state.NodeId]float64{"fe80::1": 12}),
	}
	for _, m := range msgs {
		t.Run(m.String(), func(t *testing.T) {
			raw, err := Encode(m)
			require.NoError(t, err)
			got, err := Unmarshal(raw)
			require.NoError(t, err)
			if diff := cmp.Diff(m, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, m.Len(), got.Len())
		})
	}
}

func TestDecodeStream(t *testing.T) {
	stream := "From:A\nType:HELLO\n" +
		"From:A\nType:DV\nLen:2\nX:3\nY:7\n" +
		"From:A\r\nType: KEEP_ALIVE \r\n"
	d := NewDecoder(strings.NewReader(stream))

	m, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, NewHello("A"), m)

	m, err = d.Decode()
	require.NoError(t, err)
	assert.Equal(t, NewDv("A", map[state.NodeId]float64{"X": 3, "Y": 7}), m)

	m, err = d.Decode()
	require.NoError(t, err)
	assert.Equal(t, NewKeepAlive("A"), m)

	_, err = d.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"missing from":     "Type:HELLO\nFrom:A\n",
		"empty from":       "From:\nType:HELLO\n",
		"unknown type":     "From:A\nType:GOODBYE\n",
		"missing type":     "From:A\nKind:HELLO\n",
		"bad len":          "From:A\nType:DV\nLen:two\n",
		"negative len":     "From:A\nType:DV\nLen:-1\n",
		"huge len":         "From:A\nType:DV\nLen:100000\n",
		"missing len":      "From:A\nType:DV\nX:3\n",
		"cost not numeric": "From:A\nType:DV\nLen:1\nX:three\n",
		"cost no colon":    "From:A\nType:DV\nLen:1\nX3\n",
		"cost no id":       "From:A\nType:DV\nLen:1\n:3\n",
		"duplicate dest":   "From:A\nType:DV\nLen:2\nX:3\nX:4\n",
		"long line":        "From:" + strings.Repeat("a", MaxLineLength) + "\nType:HELLO\n",
		"trailing data":    "From:A\nType:HELLO\nextra\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
			assert.NotErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"no terminator":    "From:A",
		"missing type":     "From:A\n",
		"type unterminate": "From:A\nType:HELLO",
		"missing entries":  "From:A\nType:DV\nLen:2\nX:3\n",
		"missing len":      "From:A\nType:DV\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(raw))
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestDecodePassesNegativeCosts(t *testing.T) {
	m, err := Unmarshal([]byte("From:A\nType:DV\nLen:1\nX:-5\n"))
	require.NoError(t, err)
	assert.Equal(t, -5.0, m.Costs["X"])
}

func TestDecodeReadError(t *testing.T) {
	boom := errors.New("boom")
	d := NewDecoder(io.MultiReader(bytes.NewReader([]byte("From:A\n")), &failingReader{boom}))
	_, err := d.Decode()
	assert.ErrorIs(t, err, boom)
}

func TestEncodeRejectsUnframeable(t *testing.T) {
	_, err := Encode(Message{Kind: Hello, From: ""})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Encode(Message{Kind: Hello, From: "A\nType:DV"})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Encode(Message{Kind: KeepAlive, From: "A", Costs: map[state.NodeId]float64{"X": 1}})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Encode(Message{Kind: 0, From: "A"})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Encode(NewDv("A", map[state.NodeId]float64{" X": 1}))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Hello, Welcome, KeepAlive, Dv} {
		got, ok := ParseKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("hello")
	assert.False(t, ok)
}

type failingReader struct {
	err error
}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, f.err
}
