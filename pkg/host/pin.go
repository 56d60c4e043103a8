package host

// Position is a node's simulated position plus optional fixed coordinates.
// A node with FX/FY/FZ set is pinned: the simulation leaves it in place.
type Position struct {
	X, Y, Z    float64
	FX, FY, FZ *float64
}

// Pinned reports whether any axis is fixed.
func (p *Position) Pinned() bool {
	return p.FX != nil || p.FY != nil || p.FZ != nil
}

func (p *Position) pinHere() {
	x, y, z := p.X, p.Y, p.Z
	p.FX, p.FY, p.FZ = &x, &y, &z
}

// PinPolicy decides what drag events do to a node's position.
//
// The zero value pins on drag start and on every drag move, and leaves the
// pin in place on drag end, so a node dragged once stays where it was dropped
// until Unpin is called.
type PinPolicy struct {
	ReleaseOnDragEnd bool
}

// DragStart pins the node at its current position.
func (pp PinPolicy) DragStart(p *Position) { p.pinHere() }

// Drag moves the pin to the node's current position.
func (pp PinPolicy) Drag(p *Position) { p.pinHere() }

// DragEnd releases the pin only when ReleaseOnDragEnd is set.
func (pp PinPolicy) DragEnd(p *Position) {
	if pp.ReleaseOnDragEnd {
		pp.Unpin(p)
	}
}

// Unpin hands the node back to the simulation.
func (pp PinPolicy) Unpin(p *Position) {
	p.FX, p.FY, p.FZ = nil, nil, nil
}
