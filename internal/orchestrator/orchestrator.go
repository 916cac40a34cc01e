// Package orchestrator runs a chat turn against the candidate models:
// select, attempt in order, stream the winner and persist it once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	. "github.com/roelfdiedericks/chatgate/internal/metrics"
	"github.com/roelfdiedericks/chatgate/internal/stream"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

// DefaultAttemptTimeout bounds one provider attempt
const DefaultAttemptTimeout = 120 * time.Second

// ModelSelector picks the first model to try
type ModelSelector interface {
	Select(ctx context.Context, requested string, history []llm.Message) (string, bool)
}

// CandidateSource lists the models that may be attempted
type CandidateSource interface {
	Candidates(flags llm.Flags) []llm.Candidate
}

// Orchestrator drives selection and fallback for chat turns
type Orchestrator struct {
	candidates CandidateSource
	selector   ModelSelector
	normalizer *Normalizer
	timeout    atomic.Int64 // nanoseconds, 0 = none
	locks      *convLocks
}

// NewOrchestrator wires the pipeline. attemptTimeout <= 0 disables the
// per-attempt deadline.
func NewOrchestrator(candidates CandidateSource, selector ModelSelector, normalizer *Normalizer, attemptTimeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		candidates: candidates,
		selector:   selector,
		normalizer: normalizer,
		locks:      newConvLocks(),
	}
	o.SetAttemptTimeout(attemptTimeout)
	return o
}

// SetAttemptTimeout changes the per-attempt deadline for subsequent attempts
func (o *Orchestrator) SetAttemptTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	o.timeout.Store(int64(d))
}

// AttemptTimeout returns the current per-attempt deadline
func (o *Orchestrator) AttemptTimeout() time.Duration {
	return time.Duration(o.timeout.Load())
}

// Begin claims a conversation for one generation. It fails with
// ErrConversationBusy while another generation holds it.
func (o *Orchestrator) Begin(conversationID string) (release func(), err error) {
	return o.locks.acquire(conversationID)
}

// Busy reports whether a generation for conversationID is in flight
func (o *Orchestrator) Busy(conversationID string) bool {
	return o.locks.busy(conversationID)
}

// AttemptOrder puts chosen first, followed by the remaining candidates
// in their given order, without duplicates. A chosen id that is not a
// candidate is ignored.
func AttemptOrder(chosen string, candidates []llm.Candidate) []llm.Candidate {
	out := make([]llm.Candidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.ID() == chosen {
			out = append(out, c)
			seen[chosen] = true
			break
		}
	}
	for _, c := range candidates {
		if seen[c.ID()] {
			continue
		}
		seen[c.ID()] = true
		out = append(out, c)
	}
	return out
}

// Run executes one turn. On success the message has been stored and its
// id sent. Errors: ErrSelection, ErrExhausted, or a terminal error
// (client gone, cancelled context).
func (o *Orchestrator) Run(ctx context.Context, sink stream.Sink, turn *Turn) (*Result, error) {
	start := time.Now()
	res := &Result{}

	chosen, ok := o.selector.Select(ctx, turn.RequestedModel, turn.History)
	if !ok {
		L_warn("orchestrator: model selection failed", "conversation", turn.ConversationID, "requested", turn.RequestedModel)
		MetricOutcome("pipeline", "run", "selection_failed")
		if err := sink.Send(stream.Error(SelectionFailedMessage)); err != nil {
			return res, err
		}
		return res, ErrSelection
	}

	order := AttemptOrder(chosen, o.candidates.Candidates(turn.Flags))
	L_debug("orchestrator: attempt order", "conversation", turn.ConversationID, "chosen", chosen, "candidates", len(order))

	attempted := make(map[string]bool, len(order))
	for i, c := range order {
		id := c.ID()
		if attempted[id] {
			continue
		}
		attempted[id] = true
		res.Attempts = append(res.Attempts, id)

		if err := sink.Send(stream.Status(fmt.Sprintf("Trying model: %s...", id))); err != nil {
			MetricOutcome("pipeline", "run", "client_gone")
			return res, err
		}

		attemptStart := time.Now()
		msg, err := o.attempt(ctx, sink, c, turn)
		MetricSince("pipeline", "attempt/"+id, attemptStart)

		if err == nil {
			MetricSuccess("pipeline", "attempt/"+id)
			MetricOutcome("pipeline", "run", "success")
			res.Model = id
			res.Message = msg
			res.MessageID = msg.ID
			L_elapsed(start, "orchestrator: turn complete", "conversation", turn.ConversationID, "model", id, "attempts", len(res.Attempts))
			return res, nil
		}

		reason := failureReason(err)
		MetricFailWithReason("pipeline", "attempt/"+id, reason)

		if terminal(ctx, err) {
			L_info("orchestrator: client gone, stopping", "conversation", turn.ConversationID, "model", id, "error", err)
			MetricOutcome("pipeline", "run", "client_gone")
			return res, err
		}

		L_warn("orchestrator: attempt failed", "conversation", turn.ConversationID, "model", id, "reason", reason, "error", err)

		text := fmt.Sprintf("Error with %s.", id)
		if next := nextUntried(order[i+1:], attempted); next != "" {
			text += fmt.Sprintf(" Retrying with %s...", next)
		}
		if err := sink.Send(stream.Error(text)); err != nil {
			MetricOutcome("pipeline", "run", "client_gone")
			return res, err
		}
	}

	L_error("orchestrator: all models failed", "conversation", turn.ConversationID, "attempts", len(res.Attempts))
	MetricOutcome("pipeline", "run", "exhausted")
	if err := sink.Send(stream.Error(ExhaustedMessage)); err != nil {
		return res, err
	}
	return res, ErrExhausted
}

// attempt runs the normalizer under the per-attempt deadline
func (o *Orchestrator) attempt(ctx context.Context, sink stream.Sink, c llm.Candidate, turn *Turn) (*types.Message, error) {
	actx := ctx
	d := o.AttemptTimeout()
	if d > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	msg, err := o.normalizer.Invoke(actx, sink, c, turn)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt timed out after %s (%v): %w", d, err, context.DeadlineExceeded)
	}
	return msg, err
}

// terminal reports whether err ends the run without further fallback
func terminal(ctx context.Context, err error) bool {
	return errors.Is(err, stream.ErrClientGone) || ctx.Err() != nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPersist):
		return "persist"
	case errors.Is(err, ErrIncompleteStream):
		return "incomplete_stream"
	case errors.Is(err, stream.ErrClientGone):
		return "client_gone"
	default:
		return string(llm.ClassifyError(err))
	}
}

func nextUntried(rest []llm.Candidate, attempted map[string]bool) string {
	for _, c := range rest {
		if !attempted[c.ID()] {
			return c.ID()
		}
	}
	return ""
}
