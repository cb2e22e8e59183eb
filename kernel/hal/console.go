package hal

// Point is a character-cell coordinate.
type Point struct{ X, Y int }

// Span is a rectangular region between two Points, used to track the
// portion of a console's cell buffer that needs repainting.
type Span struct{ Start, End Point }

// ConsoleState is a snapshot of everything a ConsoleBackend needs to redraw:
// the cursor position, the dirty region accumulated since the last repaint,
// and the backing cell buffer. The console owns this state; the backend only
// reads it during Repaint.
type ConsoleState struct {
	Width, Height int
	Cursor        Point
	Dirty         Span
	Cells         []byte
}

// ConsoleBackend is implemented by the concrete video/console driver behind
// the active terminal. A backend's repaint step runs as its own task, woken
// via ScheduleRepaint/Wait, so writers hand work to a background repaint
// task instead of rendering inline on every character written.
type ConsoleBackend interface {
	// SetGeometry reports the backend's current dimensions in *w, *h.
	SetGeometry(w, h *uint16)

	// Repaint redraws state's dirty region onto the physical display.
	Repaint(state *ConsoleState)

	// ScheduleRepaint signals that new state is ready to be repainted,
	// waking whatever is blocked in Wait.
	ScheduleRepaint()

	// Wait blocks until ScheduleRepaint has been called, then returns so
	// the caller can fetch the latest state and call Repaint.
	Wait()
}
