// Package mailtest provides an in-memory mail.Gateway for tests.
package mailtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/workshop-mailer/internal/mail"
)

// ErrRejected is returned for recipients configured to fail.
var ErrRejected = errors.New("mailtest: recipient rejected")

// Recorder captures every successfully sent message. Recipients registered
// with FailFor make Send return ErrRejected without recording.
type Recorder struct {
	mu      sync.Mutex
	sent    []mail.Message
	failFor map[string]bool
	calls   int
	delay   time.Duration
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{failFor: make(map[string]bool)}
}

// FailFor makes every send to the given addresses fail.
func (r *Recorder) FailFor(addresses ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range addresses {
		r.failFor[a] = true
	}
}

// SetDelay makes every Send take at least d, like a slow provider.
func (r *Recorder) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

func (r *Recorder) Send(ctx context.Context, msg mail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delay := r.delay
	r.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failFor[msg.To] {
		return ErrRejected
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages in send order.
func (r *Recorder) Sent() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mail.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// SentTo returns the messages delivered to address.
func (r *Recorder) SentTo(address string) []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mail.Message
	for _, m := range r.sent {
		if m.To == address {
			out = append(out, m)
		}
	}
	return out
}

// Calls counts every Send attempt, failed ones included.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Reset forgets recorded messages and attempts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.calls = 0
}
