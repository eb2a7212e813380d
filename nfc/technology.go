package nfc

import (
	"context"
	"encoding/hex"
)

// Technology identifiers as reported in a tag's tech list.
const (
	TechNDEF             = "android.nfc.tech.Ndef"
	TechNDEFFormatable   = "android.nfc.tech.NdefFormatable"
	TechNfcA             = "android.nfc.tech.NfcA"
	TechNfcB             = "android.nfc.tech.NfcB"
	TechNfcF             = "android.nfc.tech.NfcF"
	TechNfcV             = "android.nfc.tech.NfcV"
	TechIsoDep           = "android.nfc.tech.IsoDep"
	TechMifareClassic    = "android.nfc.tech.MifareClassic"
	TechMifareUltralight = "android.nfc.tech.MifareUltralight"
)

// TagTechnology is a capability exposed by a discovered tag.
type TagTechnology interface {
	// Name returns the technology identifier
	Name() string

	// TagID returns the ID of the tag this technology is bound to
	TagID() []byte
}

// NDEFTechnology exposes NDEF message read and write on a discovered tag.
type NDEFTechnology struct {
	tagID  []byte
	handle NDEFHandle
}

// NewNDEFTechnology binds an NDEF handle to a tag.
func NewNDEFTechnology(tagID []byte, handle NDEFHandle) *NDEFTechnology {
	return &NDEFTechnology{
		tagID:  append([]byte(nil), tagID...),
		handle: handle,
	}
}

func (t *NDEFTechnology) Name() string {
	return TechNDEF
}

func (t *NDEFTechnology) TagID() []byte {
	return append([]byte(nil), t.tagID...)
}

// Read returns the message currently stored on the tag.
func (t *NDEFTechnology) Read(ctx context.Context) (*NDEFMessage, error) {
	if t.handle == nil {
		return nil, NewNotSupportedError("ReadNDEF", "tag has no NDEF handle")
	}
	msg, err := t.handle.ReadNDEF(ctx)
	if err != nil {
		return nil, wrapTagError(ErrCodeReadFailed, "ReadNDEF", t.tagID, err)
	}
	return msg, nil
}

// Write stores msg on the tag.
func (t *NDEFTechnology) Write(ctx context.Context, msg *NDEFMessage) error {
	if t.handle == nil {
		return NewNotSupportedError("WriteNDEF", "tag has no NDEF handle")
	}
	if err := t.handle.WriteNDEF(ctx, msg); err != nil {
		return wrapTagError(ErrCodeWriteFailed, "WriteNDEF", t.tagID, err)
	}
	return nil
}

// wrapTagError leaves NFCErrors from the handle untouched.
func wrapTagError(code ErrorCode, op string, tagID []byte, err error) error {
	if GetErrorCode(err) != 0 {
		return err
	}
	e := WrapError(code, op, "", err)
	e.TagUID = hex.EncodeToString(tagID)
	switch code {
	case ErrCodeReadFailed:
		e.Message = "read failed"
	case ErrCodeWriteFailed:
		e.Message = "write failed"
	}
	return e
}
