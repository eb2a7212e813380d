package protocol

// NDEFRecordInput represents a single NDEF record sent by a client.
// Supports both high-level (recordType+content) and low-level (TNF+payload) formats.
type NDEFRecordInput struct {
	// High-level format (preferred for simple records)
	RecordType string `json:"recordType,omitempty"` // "text", "uri", "mime"
	Content    string `json:"content,omitempty"`    // Text content, URI, or MIME body
	Language   string `json:"language,omitempty"`   // Language code for text (default: "en")
	MimeType   string `json:"mimeType,omitempty"`   // MIME type for mime records

	// Low-level format (for advanced use cases)
	TNF     *uint8 `json:"tnf,omitempty"`     // Type Name Format (0x00-0x07)
	Type    string `json:"type,omitempty"`    // NDEF record type
	ID      string `json:"id,omitempty"`      // Optional record ID
	Payload []byte `json:"payload,omitempty"` // Raw payload bytes (base64 in JSON)
}

// NDEFRecordPayload is the JSON-friendly representation of an NDEF record.
type NDEFRecordPayload struct {
	RecordType string `json:"recordType"`        // "text", "uri", "mime", or "raw"
	Content    string `json:"content,omitempty"` // Decoded content
	MimeType   string `json:"mimeType,omitempty"`
	TNF        uint8  `json:"tnf"`
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Payload    []byte `json:"payload"`
}
