package nl802154

import (
	"fmt"
	"slices"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// Decoder iterates lazily over the attributes in a buffer.
//
// Decoding is a pure function of the buffer: a Decoder holds only its
// position, and Reset restarts iteration from the first attribute. Every
// read is bounds-checked against the buffer.
//
// Example:
//
//	d := nl802154.NewDecoder(b)
//	for d.Next() {
//	    a := d.Attribute()
//	    ...
//	}
//	if err := d.Err(); err != nil {
//	    return err
//	}
type Decoder struct {
	b    []byte
	off  int
	attr Attribute
	err  error
}

// NewDecoder returns a Decoder positioned before the first attribute of b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Next advances to the next attribute. It returns false at the end of the
// buffer or on the first malformed header, after which Err reports why.
func (d *Decoder) Next() bool {
	if d.err != nil || d.off == len(d.b) {
		return false
	}

	remaining := len(d.b) - d.off
	if remaining < AttrHeaderLen {
		d.err = fmt.Errorf("%w: %d trailing bytes at offset %d, header needs %d",
			ErrDecode, remaining, d.off, AttrHeaderLen)
		return false
	}

	length := int(nlenc.Uint16(d.b[d.off : d.off+2]))
	typ := nlenc.Uint16(d.b[d.off+2:d.off+4]) & attrTypeMask

	switch {
	case length < AttrHeaderLen:
		d.err = fmt.Errorf("%w: attribute at offset %d declares length %d, below header size",
			ErrDecode, d.off, length)
		return false
	case length > remaining:
		d.err = fmt.Errorf("%w: attribute at offset %d declares length %d, only %d bytes remain",
			ErrDecode, d.off, length, remaining)
		return false
	}

	end := d.off + length
	d.attr = Attribute{Type: typ, Data: d.b[d.off+AttrHeaderLen : end : end]}

	next := d.off + align(length)
	if next > len(d.b) {
		// The final attribute may omit some or all of its padding, but
		// whatever is left must be zero padding.
		if tail := d.b[end:]; slices.ContainsFunc(tail, func(c byte) bool { return c != 0 }) {
			d.err = fmt.Errorf("%w: %d stray bytes after attribute at offset %d",
				ErrDecode, len(tail), d.off)
			return false
		}
		next = len(d.b)
	}
	d.off = next
	return true
}

// Attribute returns the attribute the last successful Next stopped on.
// Its Data aliases the decoder's buffer.
func (d *Decoder) Attribute() Attribute {
	return d.attr
}

// Err returns the decode error that stopped iteration, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Reset rewinds the decoder to the first attribute.
func (d *Decoder) Reset() {
	d.off = 0
	d.attr = Attribute{}
	d.err = nil
}

// Decode validates the whole buffer and returns its attributes in order.
//
// Unknown type tags are returned as-is. Returned values are copies; the
// buffer may be reused after Decode returns.
//
// Returns:
//   - []Attribute: Every attribute in the buffer (nil for an empty buffer)
//   - error: wraps ErrDecode if any header is truncated or out of range
func Decode(b []byte) ([]Attribute, error) {
	var attrs []Attribute
	d := NewDecoder(b)
	for d.Next() {
		attrs = append(attrs, d.Attribute().Clone())
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// EncodeAttributes serialises attrs in order. Output is deterministic and
// padding bytes are zero.
//
// Returns:
//   - []byte: The attribute stream
//   - error: wraps ErrEncode if a value does not fit a 16-bit length
func EncodeAttributes(attrs []Attribute) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	for _, a := range attrs {
		if len(a.Data) > MaxValueLen {
			return nil, fmt.Errorf("%w: type %d value of %d bytes exceeds %d",
				ErrEncode, a.Type, len(a.Data), MaxValueLen)
		}
		ae.Bytes(a.Type, a.Data)
	}

	b, err := ae.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return b, nil
}

// Encode serialises a command as a generic netlink payload: the 4-byte genl
// header (command, version 0, reserved) followed by the attributes.
func Encode(cmd Command) ([]byte, error) {
	attrs, err := EncodeAttributes(cmd.Attributes)
	if err != nil {
		return nil, err
	}
	b := make([]byte, GenlHeaderLen+len(attrs))
	b[0] = cmd.ID
	copy(b[GenlHeaderLen:], attrs)
	return b, nil
}
