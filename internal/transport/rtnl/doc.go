// Package rtnl connects wpand to rtnetlink (NETLINK_ROUTE).
//
// Monitor subscribes to the RTNLGRP_LINK multicast group and forwards every
// link notification to a handler, which for wpand is the wpan Engine.
// Controller implements wpan.PowerController by toggling IFF_UP on the
// interfaces of a PHY whose Powered property changed.
package rtnl
