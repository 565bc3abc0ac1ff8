package session

// AutoScrollController decides whether the transcript view should follow new
// entries. It follows only when the viewport was already near the bottom, so
// a reader scrolled up into history is never yanked back down.
type AutoScrollController struct {
	threshold  int
	nearBottom bool
}

// NewAutoScrollController builds a controller; threshold is how many lines
// from the bottom still count as "at the bottom".
func NewAutoScrollController(threshold int) *AutoScrollController {
	if threshold < 0 {
		threshold = 0
	}
	return &AutoScrollController{threshold: threshold, nearBottom: true}
}

// Observe records the viewport position before a log change. offset is the
// first visible line, height the viewport height, total the content height.
func (a *AutoScrollController) Observe(offset, height, total int) {
	if total <= height {
		a.nearBottom = true
		return
	}
	a.nearBottom = offset+height >= total-a.threshold
}

// ShouldFollow reports whether the view should jump to the bottom after a
// log change.
func (a *AutoScrollController) ShouldFollow() bool { return a.nearBottom }

// NearBottom reports the last observed position, used to show the manual
// jump affordance when the reader is up in history.
func (a *AutoScrollController) NearBottom() bool { return a.nearBottom }

// JumpToBottom resumes following after a manual jump.
func (a *AutoScrollController) JumpToBottom() { a.nearBottom = true }
