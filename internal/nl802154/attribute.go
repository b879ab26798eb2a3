package nl802154

import (
	"bytes"
	"fmt"

	"github.com/mdlayher/netlink/nlenc"
)

// Attribute is one decoded (type, length, value) record.
//
// The length is implied by len(Data). Data returned by Decode is owned by
// the caller; Data returned by a Decoder aliases the decoded buffer.
type Attribute struct {
	// Type is the attribute tag with the nested and byte-order flag bits
	// cleared.
	Type uint16

	// Data is the raw value without header or padding.
	Data []byte
}

// Command is an outbound nl802154 command: a command id and its ordered
// attributes.
type Command struct {
	ID         uint8
	Attributes []Attribute
}

// Uint8 returns the value as a u8.
func (a Attribute) Uint8() (uint8, error) {
	if err := a.checkWidth(1); err != nil {
		return 0, err
	}
	return nlenc.Uint8(a.Data), nil
}

// Uint16 returns the value as a native-endian u16.
func (a Attribute) Uint16() (uint16, error) {
	if err := a.checkWidth(2); err != nil { //nolint:mnd // u16 width
		return 0, err
	}
	return nlenc.Uint16(a.Data), nil
}

// Uint32 returns the value as a native-endian u32.
func (a Attribute) Uint32() (uint32, error) {
	if err := a.checkWidth(4); err != nil { //nolint:mnd // u32 width
		return 0, err
	}
	return nlenc.Uint32(a.Data), nil
}

// Uint64 returns the value as a native-endian u64.
func (a Attribute) Uint64() (uint64, error) {
	if err := a.checkWidth(8); err != nil { //nolint:mnd // u64 width
		return 0, err
	}
	return nlenc.Uint64(a.Data), nil
}

// String returns the value as a string. The kernel sends NUL-terminated
// strings; an empty value or a value without a terminator is rejected.
func (a Attribute) String() (string, error) {
	if len(a.Data) == 0 || a.Data[len(a.Data)-1] != 0 {
		return "", fmt.Errorf("%w: type %d is not a NUL-terminated string", ErrAttributeWidth, a.Type)
	}
	if i := bytes.IndexByte(a.Data, 0); i != len(a.Data)-1 {
		return "", fmt.Errorf("%w: type %d has an embedded NUL at %d", ErrAttributeWidth, a.Type, i)
	}
	return nlenc.String(a.Data), nil
}

// checkWidth guards every nlenc call, which panics on a short slice.
func (a Attribute) checkWidth(want int) error {
	if len(a.Data) != want {
		return fmt.Errorf("%w: type %d has %d bytes, want %d", ErrAttributeWidth, a.Type, len(a.Data), want)
	}
	return nil
}

// Uint8Attr builds a u8 attribute.
func Uint8Attr(typ uint16, v uint8) Attribute {
	return Attribute{Type: typ, Data: nlenc.Uint8Bytes(v)}
}

// Uint16Attr builds a native-endian u16 attribute.
func Uint16Attr(typ uint16, v uint16) Attribute {
	return Attribute{Type: typ, Data: nlenc.Uint16Bytes(v)}
}

// Uint32Attr builds a native-endian u32 attribute.
func Uint32Attr(typ uint16, v uint32) Attribute {
	return Attribute{Type: typ, Data: nlenc.Uint32Bytes(v)}
}

// Uint64Attr builds a native-endian u64 attribute.
func Uint64Attr(typ uint16, v uint64) Attribute {
	return Attribute{Type: typ, Data: nlenc.Uint64Bytes(v)}
}

// StringAttr builds a NUL-terminated string attribute.
func StringAttr(typ uint16, s string) Attribute {
	return Attribute{Type: typ, Data: nlenc.Bytes(s)}
}

// Clone returns a copy of the attribute that does not alias a decode buffer.
func (a Attribute) Clone() Attribute {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Attribute{Type: a.Type, Data: data}
}
