// Package orchestrate drives one chat turn through retrieval, context
// assembly, streaming generation and persistence. A turn is a linear state
// machine; Failed is reachable from every state, and the terminal state is
// always reported to the caller as the last event on the stream.
package orchestrate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/veridoc/ragd/internal/assemble"
	"github.com/veridoc/ragd/internal/history"
	"github.com/veridoc/ragd/internal/metrics"
	"github.com/veridoc/ragd/internal/rag"
)

// State is a phase of the chat turn state machine.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateAssembling
	StateGenerating
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateAssembling:
		return "assembling"
	case StateGenerating:
		return "generating"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventType discriminates stream events.
type EventType string

const (
	// EventState announces a phase transition.
	EventState EventType = "state"
	// EventToken carries one streamed answer fragment.
	EventToken EventType = "token"
	// EventDone closes a successful turn and carries the source list.
	EventDone EventType = "done"
	// EventError closes a failed turn. If tokens were already streamed the
	// partial answer stands, flagged.
	EventError EventType = "error"
)

// Event is one item on a turn's output stream. Exactly one EventDone or
// EventError terminates every stream before the channel closes.
type Event struct {
	Type    EventType
	State   State    // EventState
	Token   string   // EventToken
	Sources []string // EventDone
	Flagged bool     // EventDone / EventError: partial answer was kept
	Err     string   // EventError
}

// Retriever produces ranked context candidates for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope rag.Scope) ([]rag.Candidate, error)
}

// Recorder persists the conversation transcript. Implemented by
// history.Store.
type Recorder interface {
	AppendMessage(ctx context.Context, m history.Message) (*history.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]history.Message, error)
}

// TurnRequest describes one chat turn. Attachment names the document
// uploaded with this turn, already ingested into the session scope by the
// caller; it is recorded with the user message only.
type TurnRequest struct {
	ConversationID string
	Query          string
	Attachment     string
}

// Orchestrator runs chat turns. Safe for concurrent use; each turn carries
// its own state.
type Orchestrator struct {
	retriever Retriever
	assembler *assemble.Assembler
	streamer  ChatStreamer
	recorder  Recorder
	logger    *zap.Logger
}

// New creates an Orchestrator.
func New(retriever Retriever, assembler *assemble.Assembler, streamer ChatStreamer, recorder Recorder, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		retriever: retriever,
		assembler: assembler,
		streamer:  streamer,
		recorder:  recorder,
		logger:    logger,
	}
}

// Chat runs one turn for a conversation and returns its event stream. The
// channel is closed after the terminal event. Cancelling ctx stops
// generation; any partial answer already streamed is persisted flagged.
func (o *Orchestrator) Chat(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: empty query", rag.ErrValidation)
	}
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing conversation id", rag.ErrValidation)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.runTurn(ctx, req, events)
	}()
	return events, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, events chan<- Event) {
	conversationID, query := req.ConversationID, req.Query
	logger := o.logger.With(zap.String("conversation_id", conversationID))
	emit := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		logger.Warn("turn failed", zap.Error(err))
		metrics.GenerationTurnsTotal.WithLabelValues(StateFailed.String()).Inc()
		emit(Event{Type: EventState, State: StateFailed})
		emit(Event{Type: EventError, Err: err.Error()})
	}

	// The replay window is fetched before this turn's question is recorded,
	// so it holds the full HistoryWindow of genuinely prior messages.
	transcript, err := o.recorder.RecentMessages(ctx, conversationID, history.HistoryWindow)
	if err != nil {
		logger.Warn("failed to load history, generating without it", zap.Error(err))
		transcript = nil
	}

	// The user turn is recorded before generation so the transcript window
	// of the next turn includes it even if this one fails.
	if _, err := o.recorder.AppendMessage(ctx, history.Message{
		ConversationID: conversationID,
		Role:           history.RoleUser,
		Content:        query,
		Attachment:     req.Attachment,
	}); err != nil {
		logger.Warn("failed to record user message", zap.Error(err))
	}

	// Retrieval. Only a total failure of every source aborts the turn
	// before any token is produced.
	emit(Event{Type: EventState, State: StateRetrieving})
	candidates, err := o.retriever.Retrieve(ctx, query, rag.Session(conversationID))
	if err != nil {
		fail(fmt.Errorf("%w: %v", rag.ErrGenerationAborted, err))
		return
	}

	// Assembly never fails: an empty context is a valid outcome that the
	// prompt discloses to the model.
	emit(Event{Type: EventState, State: StateAssembling})
	promptContext := o.assembler.Build(candidates)
	if promptContext.Empty() {
		logger.Info("no context retrieved, answering with disclosure")
	}

	emit(Event{Type: EventState, State: StateGenerating})
	stream, err := o.streamer.Stream(ctx, BuildPrompt(promptContext, transcript, query))
	if err != nil {
		fail(fmt.Errorf("open generation stream: %w", err))
		return
	}
	defer stream.Close()

	answer, streamErr := o.forward(ctx, stream, emit)
	if streamErr != nil && answer == "" {
		// Nothing was produced, so there is no partial to keep.
		fail(fmt.Errorf("generation failed before first token: %w", streamErr))
		return
	}

	flagged := streamErr != nil
	if flagged {
		logger.Warn("generation interrupted, keeping flagged partial answer",
			zap.Int("answer_chars", len(answer)), zap.Error(streamErr))
	}

	// Persistence is best effort: a transcript write failure never retracts
	// an answer the user already saw.
	emit(Event{Type: EventState, State: StatePersisting})
	if answer != "" {
		// Detached from ctx so cancellation mid-stream still persists the
		// partial answer.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if _, err := o.recorder.AppendMessage(persistCtx, history.Message{
			ConversationID: conversationID,
			Role:           history.RoleAssistant,
			Content:        answer,
			Flagged:        flagged,
		}); err != nil {
			logger.Error("failed to persist assistant message", zap.Error(err))
		}
	}

	if flagged {
		metrics.GenerationTurnsTotal.WithLabelValues(StateFailed.String()).Inc()
		emit(Event{Type: EventState, State: StateFailed})
		emit(Event{Type: EventError, Err: streamErr.Error(), Flagged: true})
		return
	}

	metrics.GenerationTurnsTotal.WithLabelValues(StateDone.String()).Inc()
	emit(Event{Type: EventState, State: StateDone})
	emit(Event{Type: EventDone, Sources: promptContext.Sources()})
}

// forward relays stream fragments to the caller and accumulates the full
// answer for persistence. Returns what was produced plus the error that
// interrupted the stream, if any.
func (o *Orchestrator) forward(ctx context.Context, stream TokenStream, emit func(Event) bool) (string, error) {
	var answer []byte
	for {
		token, err := stream.Recv()
		if errors.Is(err, ErrStreamDone) {
			return string(answer), nil
		}
		if err != nil {
			return string(answer), err
		}
		if token == "" {
			continue
		}

		answer = append(answer, token...)
		metrics.GenerationTokensTotal.Inc()
		if !emit(Event{Type: EventToken, Token: token}) {
			return string(answer), ctx.Err()
		}
	}
}
