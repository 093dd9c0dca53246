package sos

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultCountdown is the grace period during which a student can still
// cancel an SOS.
const DefaultCountdown = 5 * time.Second

var (
	ErrCountdownActive = errors.New("sos countdown already running")
	ErrNoCountdown     = errors.New("no sos countdown running")
)

type armed struct {
	req      Request
	timer    *time.Timer
	deadline time.Time
}

// Countdown holds at most one pending SOS per student and raises it when
// the countdown runs out.
type Countdown struct {
	d     time.Duration
	raise func(context.Context, Request) error

	mu      sync.Mutex
	pending map[string]*armed
	wg      sync.WaitGroup
}

func NewCountdown(d time.Duration, raise func(context.Context, Request) error) *Countdown {
	return &Countdown{d: d, raise: raise, pending: make(map[string]*armed)}
}

// Arm starts the countdown for req.StudentID and returns when it fires.
func (c *Countdown) Arm(req Request) (time.Time, error) {
	if err := req.validate(); err != nil {
		return time.Time{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[req.StudentID]; ok {
		return time.Time{}, ErrCountdownActive
	}
	a := &armed{req: req, deadline: time.Now().Add(c.d)}
	c.wg.Add(1)
	a.timer = time.AfterFunc(c.d, func() { c.fire(a) })
	c.pending[req.StudentID] = a
	return a.deadline, nil
}

func (c *Countdown) fire(a *armed) {
	defer c.wg.Done()
	c.mu.Lock()
	if c.pending[a.req.StudentID] != a {
		c.mu.Unlock()
		return
	}
	delete(c.pending, a.req.StudentID)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.raise(ctx, a.req); err != nil {
		log.Printf("sos: raise for student %s on bus %s failed: %v", a.req.StudentID, a.req.BusNumber, err)
	}
}

// Cancel stops the running countdown of a student.
func (c *Countdown) Cancel(studentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.pending[studentID]
	if !ok {
		return ErrNoCountdown
	}
	delete(c.pending, studentID)
	if a.timer.Stop() {
		c.wg.Done()
	}
	return nil
}

// Active reports the deadline of a running countdown.
func (c *Countdown) Active(studentID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.pending[studentID]
	if !ok {
		return time.Time{}, false
	}
	return a.deadline, true
}

// Stop cancels every pending countdown and waits for raises in flight.
func (c *Countdown) Stop() {
	c.mu.Lock()
	for id, a := range c.pending {
		delete(c.pending, id)
		if a.timer.Stop() {
			c.wg.Done()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}
