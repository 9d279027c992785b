// Package relay bridges upstream replies to the caller's transport and commits the
// finished exchange to the conversation store.
package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/metrics"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
	"github.com/zhouzirui/mood-coach/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/mood-coach/backend/internal/service/chat"
)

// Transport names the downstream protocol a request arrived on.
type Transport string

const (
	TransportBuffered  Transport = "buffered"
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "ws"
	TransportPoll      Transport = "poll"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateDispatched State = "dispatched_upstream"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Generator produces assistant replies for a conversation.
type Generator interface {
	RequireConfigured() error
	Generate(ctx context.Context, conv chat.Conversation) (string, error)
	Stream(ctx context.Context, conv chat.Conversation) (*schema.StreamReader[*schema.Message], error)
}

// Sink receives one streamed reply. Exactly one of Done or Fail is called last.
type Sink interface {
	Delta(content string) error
	Done(full string) error
	Fail(err error)
}

// ChatRequest is a buffered chat call.
type ChatRequest struct {
	ConversationID string
	Content        string
	Mood           string
}

// Reply is the committed assistant answer.
type Reply struct {
	ConversationID string
	Content        string
	Mood           mood.Mood
}

// StreamRequest starts a streamed reply. An empty Content answers from the stored
// history, which requires the conversation to exist.
type StreamRequest struct {
	ConversationID  string
	Content         string
	Mood            string
	RequireExisting bool
	Transport       Transport
}

// Options 控制上游超时与轮询缓冲。
type Options struct {
	Timeout       time.Duration
	StreamTimeout time.Duration
	PollTTL       time.Duration
}

// Relay runs chat exchanges for every transport.
type Relay struct {
	store   chatsvc.Store
	gen     Generator
	metrics *metrics.Metrics
	opts    Options
	locks   *keyLocks
	polls   *pollRegistry
	now     func() time.Time

	// inflight tracks detached poll exchanges so shutdown can wait for them.
	inflight sync.WaitGroup
}

// New wires a relay. m may be nil.
func New(store chatsvc.Store, gen Generator, m *metrics.Metrics, opts Options) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = 9 * time.Second
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 60 * time.Second
	}
	if opts.PollTTL <= 0 {
		opts.PollTTL = 5 * time.Minute
	}
	return &Relay{
		store:   store,
		gen:     gen,
		metrics: m,
		opts:    opts,
		locks:   newKeyLocks(),
		polls:   newPollRegistry(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// exchange is one validated request holding the conversation lock.
type exchange struct {
	transport Transport
	id        string
	conv      chat.Conversation
	pending   *chat.Message
	unlock    func()
}

type tracker struct {
	relay     *Relay
	transport Transport
	id        string
}

func (r *Relay) track(transport Transport, id string) tracker {
	t := tracker{relay: r, transport: transport, id: id}
	t.enter(StateReceived)
	return t
}

func (t tracker) enter(state State) {
	t.relay.metrics.RecordState(string(t.transport), string(state))
}

func (t tracker) fail(err error) error {
	t.enter(StateFailed)
	if errors.Is(err, context.Canceled) {
		log.Printf("[relay] conversation=%s transport=%s canceled by caller", t.id, t.transport)
	} else {
		log.Printf("[relay] conversation=%s transport=%s failed: %v", t.id, t.transport, err)
	}
	return err
}

// Complete runs a buffered exchange: validate, call upstream, commit, respond once.
func (r *Relay) Complete(ctx context.Context, req ChatRequest) (Reply, error) {
	t := r.track(TransportBuffered, req.ConversationID)

	ex, err := r.begin(ctx, t, StreamRequest{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Mood:           req.Mood,
		Transport:      TransportBuffered,
	}, true)
	if err != nil {
		return Reply{}, t.fail(err)
	}
	defer ex.unlock()

	t.enter(StateDispatched)
	upCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	content, err := r.gen.Generate(upCtx, ex.conv)
	r.metrics.ObserveUpstream("buffered", time.Since(start), err)
	if err != nil {
		return Reply{}, t.fail(ai.ClassifyError(upCtx, err))
	}

	if err := r.commit(ctx, ex, content); err != nil {
		return Reply{}, t.fail(err)
	}
	t.enter(StateCompleted)
	log.Printf("[relay] conversation=%s transport=%s completed, length=%d", ex.id, t.transport, len(content))

	return Reply{ConversationID: ex.id, Content: content, Mood: ex.conv.Mood}, nil
}

// Stream runs a streamed exchange into sink. Every returned error has already been
// reported to sink through Fail.
func (r *Relay) Stream(ctx context.Context, req StreamRequest, sink Sink) error {
	if req.Transport == "" {
		req.Transport = TransportSSE
	}
	t := r.track(req.Transport, req.ConversationID)

	ex, err := r.begin(ctx, t, req, false)
	if err != nil {
		sink.Fail(err)
		return t.fail(err)
	}
	return r.run(ctx, t, ex, sink)
}

// begin performs VALIDATING and takes the per-conversation lock. On success the
// returned exchange must be unlocked by the caller.
func (r *Relay) begin(ctx context.Context, t tracker, req StreamRequest, contentRequired bool) (*exchange, error) {
	t.enter(StateValidating)

	id := strings.TrimSpace(req.ConversationID)
	content := req.Content
	details := map[string]string{}
	if id == "" {
		details["conversationId"] = "required"
	}
	if contentRequired && strings.TrimSpace(content) == "" {
		details["content"] = "required"
	}
	if len(details) > 0 {
		return nil, errs.Validation("missing required fields", details)
	}

	historyOnly := strings.TrimSpace(content) == ""
	if req.RequireExisting || historyOnly {
		if _, err := r.store.Get(ctx, id); err != nil {
			// Without content there is nothing to start a new conversation from.
			if !req.RequireExisting && errors.Is(err, chat.ErrConversationNotFound) {
				return nil, errs.Validation("missing required fields", map[string]string{"content": "required"})
			}
			return nil, notFound(err)
		}
	}

	if err := r.gen.RequireConfigured(); err != nil {
		return nil, err
	}

	unlock, err := r.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}

	ex, err := r.prepare(ctx, req.Transport, id, content, req.Mood, historyOnly)
	if err != nil {
		unlock()
		return nil, err
	}
	ex.unlock = unlock
	return ex, nil
}

// prepare resolves the conversation and stages the user message. The staged message is
// part of the prompt but is only stored together with the assistant reply.
func (r *Relay) prepare(ctx context.Context, transport Transport, id, content, rawMood string, historyOnly bool) (*exchange, error) {
	requested, valid := mood.Parse(rawMood)

	var (
		conv chat.Conversation
		err  error
	)
	if historyOnly {
		conv, err = r.store.Get(ctx, id)
	} else {
		initial := requested
		if !valid {
			initial = mood.Default
		}
		conv, _, err = r.store.GetOrCreate(ctx, id, initial, content)
	}
	if err != nil {
		return nil, notFound(err)
	}

	if valid && conv.Mood != requested {
		if err := r.store.SetMood(ctx, id, requested); err != nil {
			return nil, notFound(err)
		}
		conv.Mood = requested
	}

	ex := &exchange{transport: transport, id: id, conv: conv}
	if !historyOnly {
		msg := chat.Message{
			Role:      chat.RoleUser,
			Content:   content,
			Mood:      conv.Mood,
			Timestamp: r.now(),
		}
		ex.pending = &msg
		ex.conv.Messages = append(ex.conv.Messages, msg)
	}
	return ex, nil
}

// run performs DISPATCHED_UPSTREAM through COMPLETED or FAILED and releases the lock.
func (r *Relay) run(ctx context.Context, t tracker, ex *exchange, sink Sink) error {
	defer ex.unlock()

	t.enter(StateDispatched)
	upCtx, cancel := context.WithTimeout(ctx, r.opts.StreamTimeout)
	defer cancel()

	start := time.Now()
	reader, err := r.gen.Stream(upCtx, ex.conv)
	if err != nil {
		err = ai.ClassifyError(upCtx, err)
		r.metrics.ObserveUpstream("stream", time.Since(start), err)
		sink.Fail(err)
		return t.fail(err)
	}
	defer reader.Close()

	t.enter(StateStreaming)
	r.metrics.StreamStarted()
	defer r.metrics.StreamFinished()

	var full strings.Builder
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			err = ai.ClassifyError(upCtx, err)
			r.metrics.ObserveUpstream("stream", time.Since(start), err)
			sink.Fail(err)
			return t.fail(err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		full.WriteString(msg.Content)
		if err := sink.Delta(msg.Content); err != nil {
			// The caller is gone; nothing is committed.
			r.metrics.ObserveUpstream("stream", time.Since(start), err)
			return t.fail(err)
		}
	}
	r.metrics.ObserveUpstream("stream", time.Since(start), nil)

	reply := full.String()
	if err := r.commit(ctx, ex, reply); err != nil {
		sink.Fail(err)
		return t.fail(err)
	}
	t.enter(StateCompleted)
	log.Printf("[relay] conversation=%s transport=%s completed, length=%d", ex.id, t.transport, len(reply))

	if err := sink.Done(reply); err != nil {
		log.Printf("[relay] conversation=%s transport=%s done frame not delivered: %v", ex.id, t.transport, err)
	}
	return nil
}

// commit stores the staged user message and the assistant reply, in that order.
func (r *Relay) commit(ctx context.Context, ex *exchange, reply string) error {
	if ex.pending != nil {
		if err := r.store.AppendMessage(ctx, ex.id, *ex.pending); err != nil {
			return notFound(err)
		}
	}
	assistant := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   reply,
		Timestamp: r.now(),
	}
	if err := r.store.AppendMessage(ctx, ex.id, assistant); err != nil {
		return notFound(err)
	}
	return nil
}

// RequireConfigured reports a ConfigurationError when the upstream has no credentials.
func (r *Relay) RequireConfigured() error {
	return r.gen.RequireConfigured()
}

// Wait blocks until detached poll exchanges finish or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notFound(err error) error {
	if errors.Is(err, chat.ErrConversationNotFound) {
		return errs.NotFound("conversation not found")
	}
	return err
}
