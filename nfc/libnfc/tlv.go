package libnfc

import (
	"fmt"

	"github.com/clausecker/freefare"
)

const (
	tlvNull       = 0x00
	tlvNDEF       = 0x03
	tlvTerminator = 0xFE
)

// findNDEF walks a TLV block and returns the value of the first NDEF Message TLV.
// found is false when the block ends without one.
func findNDEF(data []byte) (ndef []byte, found bool, err error) {
	offset := 0
	for offset < len(data) {
		tlvType := data[offset]
		if tlvType == tlvNull {
			offset++
			continue
		}
		if tlvType == tlvTerminator {
			return nil, false, nil
		}
		if offset+1 >= len(data) {
			return nil, false, fmt.Errorf("tlv 0x%02X at %d: length field missing", tlvType, offset)
		}
		if data[offset+1] == 0xFF && offset+3 >= len(data) {
			return nil, false, fmt.Errorf("tlv 0x%02X at %d: long length field truncated", tlvType, offset)
		}

		fls, fvs := freefare.TLVrecordLength(data[offset:])
		if fls == 0 || offset+1+fls+fvs > len(data) {
			return nil, false, fmt.Errorf("tlv 0x%02X at %d: value exceeds buffer", tlvType, offset)
		}

		if tlvType == tlvNDEF {
			value, _ := freefare.TLVdecode(data[offset:])
			return value, true, nil
		}
		offset += 1 + fls + fvs
	}
	return nil, false, nil
}

// encodeNDEF wraps an NDEF message in an NDEF Message TLV followed by a terminator.
func encodeNDEF(message []byte) ([]byte, error) {
	tlv := freefare.TLVencode(message, tlvNDEF)
	if tlv == nil {
		return nil, fmt.Errorf("ndef message too large (%d bytes)", len(message))
	}
	return tlv, nil
}

// pages splits data into 4-byte pages, zero padding the last one.
func pages(data []byte) [][4]byte {
	out := make([][4]byte, 0, (len(data)+3)/4)
	for i := 0; i < len(data); i += 4 {
		var p [4]byte
		copy(p[:], data[i:])
		out = append(out, p)
	}
	return out
}
