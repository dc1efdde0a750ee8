package console

import "sync"

// Guard is a nesting counter that detaches its owner from change
// notifications while the depth is above zero.
//
// Pair every Enter with an Exit on all paths:
//
//	g.Enter()
//	defer g.Exit()
type Guard struct {
	mu           sync.Mutex
	depth        int
	onDisconnect func()
	onConnect    func()
}

// NewGuard creates a guard. onDisconnect runs on the 0->1 transition and
// onConnect on the 1->0 transition. Either may be nil.
func NewGuard(onDisconnect, onConnect func()) *Guard {
	return &Guard{
		onDisconnect: onDisconnect,
		onConnect:    onConnect,
	}
}

// Enter increments the depth.
func (g *Guard) Enter() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth == 0 && g.onDisconnect != nil {
		g.onDisconnect()
	}
	g.depth++
}

// Exit decrements the depth. It panics with ErrGuardNotHeld at depth zero.
func (g *Guard) Exit() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth == 0 {
		panic(ErrGuardNotHeld)
	}
	g.depth--
	if g.depth == 0 && g.onConnect != nil {
		g.onConnect()
	}
}

// Depth returns the current nesting level.
func (g *Guard) Depth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth
}

// Reset forces the depth back to zero, reconnecting if it was held.
// Outstanding Exit calls for the discarded levels must not follow.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth > 0 {
		g.depth = 0
		if g.onConnect != nil {
			g.onConnect()
		}
	}
}

// IfIdle runs fn with the guard locked if the depth is zero and reports
// whether it ran.
func (g *Guard) IfIdle(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.depth != 0 {
		return false
	}
	fn()
	return true
}
