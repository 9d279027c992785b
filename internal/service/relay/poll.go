package relay

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

// PollStatus is what a single poll observed.
type PollStatus string

const (
	PollWaiting PollStatus = "waiting"
	PollContent PollStatus = "content"
	PollDone    PollStatus = "done"
	PollError   PollStatus = "error"
)

// PollResult is returned to polling clients.
type PollResult struct {
	Status  PollStatus `json:"status"`
	Content string     `json:"content,omitempty"`
	Error   string     `json:"error,omitempty"`
	Code    string     `json:"code,omitempty"`
}

// pollBuffer collects one streamed reply until a client drains it.
type pollBuffer struct {
	mu       sync.Mutex
	pending  strings.Builder
	full     string
	finished bool
	err      error
	updated  time.Time
	now      func() time.Time
}

func (b *pollBuffer) Delta(content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.WriteString(content)
	b.updated = b.now()
	return nil
}

func (b *pollBuffer) Done(full string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.full = full
	b.finished = true
	b.updated = b.now()
	return nil
}

func (b *pollBuffer) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	b.finished = true
	b.updated = b.now()
}

func (b *pollBuffer) active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.finished
}

// drain returns what is newly available and whether the buffer can be dropped.
func (b *pollBuffer) drain() (PollResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return PollResult{
			Status: PollError,
			Error:  errs.Message(b.err),
			Code:   string(errs.KindOf(b.err)),
		}, true
	}
	if b.pending.Len() > 0 {
		content := b.pending.String()
		b.pending.Reset()
		return PollResult{Status: PollContent, Content: content}, false
	}
	if b.finished {
		return PollResult{Status: PollDone, Content: b.full}, true
	}
	return PollResult{Status: PollWaiting}, false
}

type pollRegistry struct {
	mu      sync.Mutex
	buffers map[string]*pollBuffer
}

func newPollRegistry() *pollRegistry {
	return &pollRegistry{buffers: make(map[string]*pollBuffer)}
}

// StartPoll validates synchronously, then streams the reply into a buffer in the
// background. Only one active poll exchange is allowed per conversation.
func (r *Relay) StartPoll(ctx context.Context, req StreamRequest) error {
	req.Transport = TransportPoll
	t := r.track(TransportPoll, req.ConversationID)

	buf := &pollBuffer{now: r.now, updated: r.now()}
	id := strings.TrimSpace(req.ConversationID)
	if id != "" {
		if err := r.polls.reserve(id, buf); err != nil {
			return t.fail(err)
		}
		r.metrics.SetPollBuffers(r.polls.len())
	}

	ex, err := r.begin(ctx, t, req, true)
	if err != nil {
		r.polls.remove(id, buf)
		r.metrics.SetPollBuffers(r.polls.len())
		return t.fail(err)
	}

	// The exchange outlives the HTTP request that started it.
	detached := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		_ = r.run(detached, t, ex, buf)
	}()
	return nil
}

// Poll drains the buffer for id. Done and error results remove the buffer.
func (r *Relay) Poll(id string) (PollResult, error) {
	buf := r.polls.get(id)
	if buf == nil {
		return PollResult{}, errs.NotFound("no reply in progress for conversation")
	}

	result, finished := buf.drain()
	if finished {
		r.polls.remove(id, buf)
		r.metrics.SetPollBuffers(r.polls.len())
		log.Printf("[poll] conversation=%s relayed %s, buffer removed", id, result.Status)
	}
	return result, nil
}

// SweepPolls removes buffers not updated within the poll TTL and returns how many
// were dropped.
func (r *Relay) SweepPolls(now time.Time) int {
	removed := r.polls.sweep(now.Add(-r.opts.PollTTL))
	if removed > 0 {
		r.metrics.SetPollBuffers(r.polls.len())
	}
	return removed
}

// PollBuffers returns the number of live poll buffers.
func (r *Relay) PollBuffers() int {
	return r.polls.len()
}

func (p *pollRegistry) reserve(id string, buf *pollBuffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.buffers[id]; ok && existing.active() {
		return errs.Conflict("a reply is already in progress for this conversation")
	}
	p.buffers[id] = buf
	return nil
}

func (p *pollRegistry) get(id string) *pollBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers[id]
}

// remove deletes id only if it still maps to buf.
func (p *pollRegistry) remove(id string, buf *pollBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.buffers[id]; ok && current == buf {
		delete(p.buffers, id)
	}
}

func (p *pollRegistry) sweep(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, buf := range p.buffers {
		buf.mu.Lock()
		stale := buf.updated.Before(cutoff)
		buf.mu.Unlock()
		if stale {
			delete(p.buffers, id)
			removed++
		}
	}
	return removed
}

func (p *pollRegistry) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}
