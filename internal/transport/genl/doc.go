// Package genl is the device-control transport for wpand: a generic netlink
// connection bound to the kernel's nl802154 family.
//
// It implements wpan.DeviceControl. Dumps return the attribute payload of
// each response message; commands are sent with an acknowledgement request
// and a kernel refusal comes back as a *CommandError carrying the errno.
//
// Usage:
//
//	c, err := genl.Dial(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	pages, err := c.Dump(ctx, nl802154.CmdGetWPANPhy)
package genl
