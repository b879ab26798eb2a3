package wpan

// Reconcile decides whether a newly discovered PHY needs a corrective
// set-channel command.
//
// The operator's configuration always wins. Nothing is requested when the
// desired channel is unset, when the PHY's report lacks a page or channel,
// or when the (page, channel) pair already matches exactly. A PHY on a
// different page with the same channel number is not considered converged.
//
// Reconcile is pure; the Engine sends the request at most once per PHY per
// session and never retries it.
//
// Returns:
//   - ChannelRequest: the desired page and channel for the reported PHY id
//   - bool: true if a command should be sent
func Reconcile(desired DesiredChannel, reported Phy) (ChannelRequest, bool) {
	if !desired.IsSet() {
		return ChannelRequest{}, false
	}
	if reported.Page == Unset || reported.Channel == Unset {
		return ChannelRequest{}, false
	}
	if desired.Page == reported.Page && desired.Channel == reported.Channel {
		return ChannelRequest{}, false
	}
	return ChannelRequest{Phy: reported.ID, Page: desired.Page, Channel: desired.Channel}, true
}
