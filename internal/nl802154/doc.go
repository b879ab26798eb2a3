// Package nl802154 encodes and decodes the attribute streams exchanged with
// the kernel's nl802154 generic netlink family.
//
// The package has no knowledge of device semantics. It turns a byte buffer
// into an ordered list of type-tagged attributes and back, and it names the
// command and attribute constants the rest of wpand uses.
//
// # Wire Format
//
// Every attribute is a 4-byte header followed by its value and zero padding
// up to the next 4-byte boundary:
//
//	Byte 0-1: total length (header + value, excluding padding)
//	Byte 2-3: type tag
//	Byte 4+:  value
//
// # Byte Order
//
// All multi-byte scalars (header fields and values) use the host's native
// byte order, which is the convention netlink declares for nl802154. The
// choice is fixed for the whole package; no call selects a byte order.
//
// # Usage
//
//	attrs, err := nl802154.Decode(payload)
//	if err != nil {
//	    return err // errors.Is(err, nl802154.ErrDecode)
//	}
//	for _, a := range attrs {
//	    if a.Type == nl802154.AttrWPANPhyName {
//	        name, _ := a.String()
//	    }
//	}
package nl802154
