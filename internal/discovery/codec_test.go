package discovery

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeQueryWireForm(t *testing.T) {
	data, err := Encode(Query{Action: ActionDiscover, Service: "stedgeai-api"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"discover","service":"stedgeai-api"}`, string(data))
}

func TestEncodeAnnouncementWireForm(t *testing.T) {
	data, err := Encode(Announcement{
		Service:   "stedgeai-api",
		IP:        "192.168.1.100",
		Port:      5000,
		Timestamp: "2024-05-01T10:00:00Z",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "stedgeai-api", got["service"])
	assert.Equal(t, "192.168.1.100", got["ip"])
	assert.Equal(t, float64(5000), got["port"])
	assert.Equal(t, "2024-05-01T10:00:00Z", got["timestamp"])
}

func TestRoundTrip(t *testing.T) {
	messages := []Message{
		Query{Action: ActionDiscover, Service: "stedgeai-api"},
		Query{Action: "ping", Service: "other"},
		Announcement{Service: "stedgeai-api", IP: "10.0.0.5", Port: 5000},
		Announcement{Service: "stedgeai-api", IP: "192.168.1.100", Port: 8080, Timestamp: "2024-05-01T10:00:00.123Z"},
	}
	for _, m := range messages {
		data, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"query without action", Query{Service: "s"}},
		{"query without service", Query{Action: ActionDiscover}},
		{"announcement without service", Announcement{IP: "10.0.0.1", Port: 5000}},
		{"announcement without ip", Announcement{Service: "s", Port: 5000}},
		{"announcement with bad ip", Announcement{Service: "s", IP: "not-an-ip", Port: 5000}},
		{"port zero", Announcement{Service: "s", IP: "10.0.0.1", Port: 0}},
		{"port too large", Announcement{Service: "s", IP: "10.0.0.1", Port: 70000}},
		{"oversize", Query{Action: ActionDiscover, Service: strings.Repeat("x", MaxMessageSize)}},
		{"nil message", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEncode), "got %v", err)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not json", []byte("hello")},
		{"truncated", []byte(`{"action":"discover"`)},
		{"non utf8", []byte{0xff, 0xfe, '{', '}'}},
		{"json array", []byte(`["discover"]`)},
		{"missing service", []byte(`{"action":"discover"}`)},
		{"empty service", []byte(`{"action":"discover","service":""}`)},
		{"service wrong type", []byte(`{"action":"discover","service":42}`)},
		{"announcement without port", []byte(`{"service":"stedgeai-api","ip":"10.0.0.1"}`)},
		{"announcement without ip", []byte(`{"service":"stedgeai-api","port":5000}`)},
		{"announcement bad ip", []byte(`{"service":"stedgeai-api","ip":"nope","port":5000}`)},
		{"announcement bad port", []byte(`{"service":"stedgeai-api","ip":"10.0.0.1","port":0}`)},
		{"announcement port as string", []byte(`{"service":"stedgeai-api","ip":"10.0.0.1","port":"5000"}`)},
		{"oversize", []byte(`{"service":"` + strings.Repeat("a", MaxMessageSize) + `"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.data)
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, ErrParse), "got %v", err)
		})
	}
}

func TestDecodeKindSelection(t *testing.T) {
	msg, err := Decode([]byte(`{"action":"discover","service":"stedgeai-api","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, Query{Action: ActionDiscover, Service: "stedgeai-api"}, msg)

	msg, err = Decode([]byte(`{"service":"stedgeai-api","ip":"192.168.1.100","port":5000}`))
	require.NoError(t, err)
	a, ok := msg.(Announcement)
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.100:5000", a.Endpoint().BaseURL())
	assert.Empty(t, a.Timestamp)
}

func TestServiceNameIsNotNormalized(t *testing.T) {
	for _, name := range []string{"stedgeai-API", "stedgeai-api ", " stedgeai-api"} {
		msg, err := Decode([]byte(`{"action":"discover","service":"` + name + `"}`))
		require.NoError(t, err)
		assert.Equal(t, name, msg.ServiceName())
	}
}
