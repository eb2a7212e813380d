package nfc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNFCError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *NFCError
		expected string
	}{
		{
			name:     "with op and reason",
			err:      NewNotSupportedError("AddTextTypeFilter", ReasonNFCUnsupported),
			expected: "AddTextTypeFilter: NFC is not supported on this device",
		},
		{
			name: "with op, message, and cause",
			err: &NFCError{
				Code:    ErrCodeReadFailed,
				Op:      "ReadNDEF",
				Message: "read failed",
				Cause:   errors.New("connection lost"),
			},
			expected: "ReadNDEF: read failed: connection lost",
		},
		{
			name:     "message only",
			err:      &NFCError{Code: ErrCodeNotSupported, Message: "not supported"},
			expected: "not supported",
		},
		{
			name:     "empty reason falls back",
			err:      NewNotSupportedError("LaunchScan", ""),
			expected: "LaunchScan: operation not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNFCError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewRegistrationError("SetListener", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRegistrationError(err))
}

func TestNFCError_Is(t *testing.T) {
	err := NewNotSupportedError("ShareTag", ReasonPushUnsupported)
	wrapped := fmt.Errorf("handler: %w", err)

	assert.ErrorIs(t, wrapped, ErrNotSupported)
	assert.True(t, IsNotSupportedError(wrapped))
	assert.False(t, errors.Is(wrapped, &NFCError{Code: ErrCodeWriteFailed}))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeWriteFailed, GetErrorCode(NewWriteError("WriteNDEF", "04a1", nil)))
	assert.Equal(t, ErrCodeTagRemoved, GetErrorCode(NewTagRemovedError("ReadNDEF", "04a1", nil)))
	assert.Equal(t, ErrorCode(0), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(0), GetErrorCode(nil))
	assert.False(t, IsNotSupportedError(nil))
}

func TestErrorf(t *testing.T) {
	err := Errorf(ErrCodeInvalidData, "DecodeMessage", "bad length %d", 3)
	assert.Equal(t, "DecodeMessage: bad length 3", err.Error())
	assert.Equal(t, ErrCodeInvalidData, err.Code)
}
