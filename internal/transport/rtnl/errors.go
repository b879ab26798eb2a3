package rtnl

import "errors"

// ErrQueueFull is returned by Controller.ApplyPower when its work queue is
// saturated.
var ErrQueueFull = errors.New("rtnl: power queue full")
