package chat

// Window selects the bounded context for the next prompt: the first
// `anchors` messages (they carry the conversation's original framing) plus
// the `recent` most recent ones, in chronological order. The two ranges are
// merged where they overlap, so a session with no more than anchors+recent
// messages comes back whole without any size check.
func Window(msgs []Message, anchors, recent int) []Message {
	if anchors < 0 {
		anchors = 0
	}
	if recent < 0 {
		recent = 0
	}
	if anchors > len(msgs) {
		anchors = len(msgs)
	}

	// start of the most-recent range, clamped so it never reaches back
	// into the anchor range
	cut := len(msgs) - recent
	if cut < anchors {
		cut = anchors
	}

	out := make([]Message, 0, anchors+len(msgs)-cut)
	out = append(out, msgs[:anchors]...)
	out = append(out, msgs[cut:]...)
	return out
}
