// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/ghostwriter/internal/config"
	ctxfrag "github.com/morganforge/ghostwriter/internal/context"
	"github.com/morganforge/ghostwriter/internal/openai"
	"github.com/morganforge/ghostwriter/internal/storage"
)

// =============================================================================
// STATES
// =============================================================================

// State is the coordinator's lifecycle phase. Failed and cancelled
// sessions return to Idle; the terminal outcome is reported through the
// presenter, not the state.
type State string

const (
	StateIdle       State = "idle"
	StateBuilding   State = "building"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
)

// advertisementLine is appended to responses when the advertisement
// flag is set, before the exchange is committed.
const advertisementLine = "---\nGenerated with ghostwriter"

// =============================================================================
// PRESENTER
// =============================================================================

// Presenter receives session output. Update carries the cumulative text
// so far, so a presenter may redraw from scratch on every call.
//
// Exactly one of Done, Canceled or Fail ends a session. Warn may fire
// at any point and never ends one.
type Presenter interface {
	Update(sessionID, text string)
	Done(sessionID, text string, usage openai.Usage)
	Canceled(sessionID string)
	Fail(sessionID string, err error)
	Warn(sessionID, message string)
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator drives one prompt/response session at a time: assemble
// context, build the request, consume the stream, commit the exchange.
type Coordinator struct {
	cfg       *config.Config
	client    *openai.Client
	store     *storage.Store
	assembler *ctxfrag.Assembler
	marked    *ctxfrag.Set
	presenter Presenter

	// submitMu serializes Submit so a replacement session never starts
	// until the session it cancelled has fully wound down.
	submitMu sync.Mutex

	mu          sync.Mutex
	state       State
	active      *activeSession
	totalTokens int
}

type activeSession struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	State       State
	SessionID   string
	TotalTokens int
}

// New creates an idle coordinator. The marked set is shared with the
// caller so files can be toggled between sessions.
func New(cfg *config.Config, client *openai.Client, store *storage.Store, assembler *ctxfrag.Assembler, marked *ctxfrag.Set, presenter Presenter) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		store:     store,
		assembler: assembler,
		marked:    marked,
		presenter: presenter,
		state:     StateIdle,
	}
}

// =============================================================================
// SUBMIT / CANCEL
// =============================================================================

// Submit starts a session for the given prompt and returns its handle.
// An active session is cancelled and drained first; two streams never
// interleave.
func (c *Coordinator) Submit(in ctxfrag.Input, userText string) string {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &activeSession{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.active = sess
	c.state = StateBuilding
	c.mu.Unlock()

	go c.run(ctx, sess, in, userText)
	return sess.id
}

// Cancel stops the active session, if any. The cancelled session appends
// no turns and surfaces no error. Blocks until the session has wound
// down, so a subsequent Submit starts clean.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
}

// Status reports the coordinator's current phase, the active session
// handle (empty when idle) and the running token total.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, TotalTokens: c.totalTokens}
	if c.active != nil {
		st.SessionID = c.active.id
	}
	return st
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

func (c *Coordinator) run(ctx context.Context, sess *activeSession, in ctxfrag.Input, userText string) {
	defer close(sess.done)
	defer c.finish(sess)

	scope := storage.ResolveScope(c.cfg.History.CachePrefix)

	fragments, warnings := c.assembler.Assemble(in, c.marked)
	for _, w := range warnings {
		c.presenter.Warn(sess.id, w.String())
	}

	history := c.loadHistory(sess, scope)

	req, err := openai.BuildRequest(c.cfg, history, fragments, userText)
	if err != nil {
		c.presenter.Fail(sess.id, err)
		return
	}

	if ctx.Err() != nil {
		c.presenter.Canceled(sess.id)
		return
	}

	stream, err := c.client.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			c.presenter.Canceled(sess.id)
			return
		}
		c.presenter.Fail(sess.id, err)
		return
	}
	defer stream.Close()
	c.setState(StateStreaming)

	var text strings.Builder
	for {
		delta, ok := stream.Next()
		if !ok {
			// Silent end: the caller cancelled mid-stream.
			c.presenter.Canceled(sess.id)
			return
		}

		switch delta.Kind {
		case openai.DeltaText:
			text.WriteString(delta.Text)
			c.presenter.Update(sess.id, text.String())

		case openai.DeltaError:
			c.presenter.Fail(sess.id, delta.Err)
			return

		case openai.DeltaUsage:
			c.setState(StateFinalizing)
			c.complete(sess, scope, userText, text.String(), *delta.Usage)
			return
		}
	}
}

// complete commits the finished exchange and reports it. A storage
// failure downgrades to a warning: the response was already shown and
// must not be retracted.
func (c *Coordinator) complete(sess *activeSession, scope, userText, responseText string, usage openai.Usage) {
	final := responseText
	if c.cfg.Output.Advertisement {
		final = final + "\n\n" + advertisementLine
	}

	if c.shouldCommit() {
		now := time.Now()
		err := c.store.AppendExchange(scope,
			storage.Turn{Role: storage.RoleUser, Content: userText, TokenCount: usage.PromptTokens, CreatedAt: now},
			storage.Turn{Role: storage.RoleAssistant, Content: final, TokenCount: usage.CompletionTokens, CreatedAt: now},
		)
		if err != nil {
			c.presenter.Warn(sess.id, "history not saved: "+err.Error())
		}
	}

	c.mu.Lock()
	c.totalTokens += usage.TotalTokens
	c.mu.Unlock()

	c.presenter.Done(sess.id, final, usage)
}

// shouldCommit applies the auto-commit policy: chat mode always commits,
// phantom mode only when phantom_auto_commit is set. Otherwise the
// phantom's explicit add-to-history action performs the commit.
func (c *Coordinator) shouldCommit() bool {
	if c.cfg.Output.Mode == config.ModePhantom {
		return c.cfg.Output.PhantomAutoCommit
	}
	return true
}

// loadHistory reads the scope's transcript for the request window. A
// storage failure degrades to an empty history with a warning rather
// than failing the session.
func (c *Coordinator) loadHistory(sess *activeSession, scope string) []openai.ChatMessage {
	turns, err := c.store.History(scope)
	if err != nil {
		c.presenter.Warn(sess.id, "history unavailable: "+err.Error())
		return nil
	}
	messages := make([]openai.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, openai.ChatMessage{
			Role:    turn.Role,
			Content: openai.MessageContent{Text: turn.Content},
		})
	}
	return messages
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// finish returns the coordinator to Idle, unless a replacement session
// has already taken over.
func (c *Coordinator) finish(sess *activeSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == sess {
		c.active = nil
		c.state = StateIdle
	}
}
