// Package wpan tracks IEEE 802.15.4 PHYs and interfaces and keeps them in
// line with the operator's configuration.
//
// # Architecture
//
//	nl802154 dumps ─┐
//	rtnl link msgs ─┼─► Engine (one dispatch loop) ─► Registry
//	bus get/set ────┘          │
//	                           ├─► ReadyNotifier (object publication)
//	                           └─► Observer (bus, journal, metrics)
//
// The Registry owns every entity; callers hold EntityRef handles and read
// copies. Only the Engine's loop touches the Registry while the daemon runs,
// so there are no locks.
//
// # Reconciliation
//
// When a PHY completes discovery, Reconcile compares the configured
// DesiredChannel with the reported page and channel. A mismatch produces a
// single set-channel command. It is never retried.
//
// # Link Events
//
// RTM_NEWLINK and RTM_DELLINK notifications for ARPHRD_6LOWPAN links set
// and clear HasLowpanLink on the wpan interface underneath (IFLA_LINK).
// Events for interfaces that have not been discovered are dropped.
package wpan
