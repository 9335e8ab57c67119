package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptLimiter(t *testing.T) {
	l := newAcceptLimiter(0.001, 2)
	first := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	samePort := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5001}
	other := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000}

	assert.True(t, l.Allow(first))
	assert.True(t, l.Allow(samePort))
	assert.False(t, l.Allow(first), "burst is shared by every port of a host")
	assert.True(t, l.Allow(other))
}

func TestAcceptLimiterDisabled(t *testing.T) {
	l := newAcceptLimiter(0, 10)
	assert.Nil(t, l)
	for range 100 {
		assert.True(t, l.Allow(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1)}))
	}
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "10.0.0.1", hostOf(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 80}))
	assert.Equal(t, "::1", hostOf(&net.TCPAddr{IP: net.IPv6loopback, Port: 80}))
	assert.Equal(t, "host", hostOf(&net.UnixAddr{Name: "host:1", Net: "unix"}))
	assert.Equal(t, "pipe", hostOf(&net.UnixAddr{Name: "pipe", Net: "unix"}))
	assert.Equal(t, "", hostOf(nil))
}
