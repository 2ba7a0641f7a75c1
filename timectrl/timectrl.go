// Package timectrl drives a simulation clock: it advances simulated time in
// fixed steps and notifies listeners on each step, either paced against the
// wall clock or as fast as the listeners allow.
package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Mode describes how the Controller advances simulation time.
type Mode int

const (
	// RealTime paces steps against wall-clock time, scaled by the speed factor.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners run.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps "realtime" or "accelerated" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "realtime", "real-time", "":
		return RealTime, nil
	case "accelerated", "fast":
		return Accelerated, nil
	default:
		return RealTime, errors.New("timectrl: unknown mode " + s)
	}
}

// ErrInvalidSpeed is returned by SetSpeed for non-positive factors.
var ErrInvalidSpeed = errors.New("timectrl: speed must be positive")

// Listener is invoked once per step with the simulated time elapsed after it.
type Listener func(ctx context.Context, elapsed time.Duration)

// Controller drives simulation time and notifies registered listeners.
// Pause, Resume and SetSpeed are safe to call while Start is running.
type Controller struct {
	mu      sync.RWMutex
	step    time.Duration
	mode    Mode
	speed   float64
	elapsed time.Duration

	// resume is non-nil while paused and closed by Resume.
	resume chan struct{}

	listeners []Listener
}

// New constructs a controller advancing step simulated time per tick.
func New(step time.Duration, mode Mode) *Controller {
	return &Controller{
		step:  step,
		mode:  mode,
		speed: 1,
	}
}

// Now returns the simulated time elapsed since Start.
func (c *Controller) Now() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elapsed
}

func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Controller) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// SetSpeed changes the real-time speed factor; 2 runs twice as fast as the
// wall clock. It takes effect from the next step.
func (c *Controller) SetSpeed(factor float64) error {
	if factor <= 0 {
		return ErrInvalidSpeed
	}
	c.mu.Lock()
	c.speed = factor
	c.mu.Unlock()
	return nil
}

// Pause stops stepping after the current step completes.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume == nil {
		c.resume = make(chan struct{})
	}
}

// Resume continues a paused controller.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
}

func (c *Controller) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resume != nil
}

// AddListener registers a callback invoked on every step. Listeners must be
// added before Start.
func (c *Controller) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	c.listeners = append(c.listeners, fn)
}

// Start runs the controller in a separate goroutine until duration of
// simulated time has elapsed (forever when duration <= 0) or ctx is done.
// It returns a channel that is closed when the controller finishes.
func (c *Controller) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		c.mu.Lock()
		c.elapsed = 0
		c.mu.Unlock()

		for {
			if duration > 0 && c.Now() >= duration {
				return
			}
			if !c.waitResumed(ctx) || !c.pace(ctx) {
				return
			}

			c.mu.Lock()
			c.elapsed += c.step
			elapsed := c.elapsed
			c.mu.Unlock()

			for _, fn := range c.listeners {
				fn(ctx, elapsed)
			}
		}
	}()
	return done
}

// waitResumed blocks while paused. It reports false when ctx ends first.
func (c *Controller) waitResumed(ctx context.Context) bool {
	c.mu.RLock()
	resume := c.resume
	c.mu.RUnlock()
	if resume == nil {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-resume:
		return true
	}
}

// pace waits out the wall-clock interval of one step in RealTime mode.
func (c *Controller) pace(ctx context.Context) bool {
	c.mu.RLock()
	mode, speed, step := c.mode, c.speed, c.step
	c.mu.RUnlock()

	if mode != RealTime {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(time.Duration(float64(step) / speed))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
