package tls

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLANIPs(t *testing.T) {
	ips, err := GetLANIPs()
	require.NoError(t, err)

	// isolated containers may have none
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		require.NotNil(t, parsed, ip)
		assert.NotNil(t, parsed.To4(), ip)
		assert.False(t, parsed.IsLoopback(), ip)
	}
}

func TestGetAllHosts(t *testing.T) {
	hosts, err := GetAllHosts()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hosts), 2)
	assert.Equal(t, "localhost", hosts[0])
	assert.Equal(t, "127.0.0.1", hosts[1])
}

func TestIPv4(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{"ipnet v4", &net.IPNet{IP: net.ParseIP("192.168.1.5"), Mask: net.CIDRMask(24, 32)}, "192.168.1.5"},
		{"ipaddr v4", &net.IPAddr{IP: net.ParseIP("10.0.0.2")}, "10.0.0.2"},
		{"loopback", &net.IPNet{IP: net.ParseIP("127.0.0.1")}, ""},
		{"v6", &net.IPNet{IP: net.ParseIP("fe80::1")}, ""},
		{"other", &net.TCPAddr{IP: net.ParseIP("10.0.0.3")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ipv4(tt.addr))
		})
	}
}

func TestPreferredHost(t *testing.T) {
	assert.NotEmpty(t, PreferredHost())
}
