package tutor

import "github.com/MrWong99/lingua/pkg/provider/live"

// State is the observable state of the tutor. A fresh copy is delivered to
// subscribers on every change.
type State struct {
	Connection live.State `json:"connection"`

	// Recording is true while microphone frames are streamed to the model.
	Recording bool `json:"recording"`

	// Loading is true from Start until capture is running or the start fails.
	Loading bool `json:"loading"`

	// OutputLevel and InputLevel are VU levels in [0, 1].
	OutputLevel float64 `json:"output_level"`
	InputLevel  float64 `json:"input_level"`

	// Transcript is the text of the model's current (or last) turn.
	Transcript string `json:"transcript"`

	SessionStarted bool `json:"session_started"`

	// CurrentQuestion is the text of the question being asked, when known.
	CurrentQuestion string `json:"current_question,omitempty"`

	// Error is a user-facing failure message. Internal details only go to
	// the log.
	Error string `json:"error,omitempty"`
}

// Subscribe returns a channel that receives the state after every change,
// starting with the current one. Only the newest undelivered state is kept,
// so slow readers skip intermediate values. Call the returned function to
// unsubscribe; the channel is then closed.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// update applies fn to the state under the lock and publishes the result.
func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateLocked(fn)
}

func (c *Controller) updateLocked(fn func(s *State)) {
	before := c.state
	fn(&c.state)
	if c.state == before {
		return
	}
	for _, ch := range c.subs {
		publish(ch, c.state)
	}
}

// updateFor is update guarded by r still being the active run.
func (c *Controller) updateFor(r *run, fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return
	}
	c.updateLocked(fn)
}

// publish delivers st, replacing an undelivered older state.
func publish(ch chan State, st State) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
