package phonenfc

import "time"

// Phone timing constants
const (
	HeartbeatTimeout  = 30 * time.Second // Drop the phone after this long without a message
	HeartbeatInterval = 10 * time.Second // Expected heartbeat frequency
	CommandTimeout    = 10 * time.Second // Default wait for a commandResult
	RegisterTimeout   = 10 * time.Second // Wait for registerDevice after upgrade
	WriteTimeout      = 10 * time.Second // Deadline for one frame written to the phone
)

// WebSocket message types sent by the phone
const (
	MessageTypeRegisterDevice  = "registerDevice"
	MessageTypeNFCState        = "nfcState"
	MessageTypeTagDiscovered   = "tagDiscovered"
	MessageTypeDeviceHeartbeat = "deviceHeartbeat"
	MessageTypeCommandResult   = "commandResult"
)

// WebSocket message types sent to the phone
const (
	MessageTypeRegistered     = "registered"
	MessageTypeSetDiscovery   = "setDiscovery"
	MessageTypeSetFilters     = "setFilters"
	MessageTypeShareTag       = "shareTag"
	MessageTypeUnshareTag     = "unshareTag"
	MessageTypeLaunchScanning = "launchScanning"
	MessageTypeReadNDEF       = "readNdef"
	MessageTypeWriteNDEF      = "writeNdef"
	MessageTypeError          = "error"
)

// Error codes sent to the phone
const (
	ErrCodeReadError        = "READ_ERROR"
	ErrCodeParseError       = "PARSE_ERROR"
	ErrCodeInvalidType      = "INVALID_MESSAGE_TYPE"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeDeviceBusy       = "DEVICE_BUSY"
	ErrCodeUnknownType      = "UNKNOWN_TYPE"
	ErrCodeInvalidTag       = "INVALID_TAG"
	ErrCodeUnknownRequestID = "UNKNOWN_REQUEST"
)
