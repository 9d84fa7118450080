package reward

// Window gates an auxiliary reward by episode count. The window is
// active strictly inside its bounds: episode e qualifies iff
// After < e < Before. A Before of 0 means no upper cutoff.
type Window struct {
	After  int
	Before int
}

// Contains returns whether the window is active at the given episode
// count.
func (w Window) Contains(episode int) bool {
	if episode <= w.After {
		return false
	}
	return w.Before == 0 || episode < w.Before
}

// Disabled returns a window that is never active
func Disabled() Window {
	return Window{After: int(^uint(0) >> 1)}
}
