package server

import (
	"time"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
)

// mDNS service discovery
var (
	MDNSServiceType = "_nfc-session._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

const (
	apiV1 = "/api/v1"

	// DefaultHistoryLimit applies when a history request gives no limit
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000

	// recentTagCapacity bounds the tags writeTag can address
	recentTagCapacity = 32

	writeTimeout    = 10 * time.Second
	storeTimeout    = 2 * time.Second
	writeTagTimeout = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)
