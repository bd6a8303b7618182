package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/drey/pkg/blackboard"
)

// pollInterval bounds how long a waiting step can sit on a missed wakeup.
const pollInterval = time.Second

// Coordinator pauses the pipeline at approval points until the operator
// responds. Feedback text lives on the board so the control API can show it;
// the coordinator owns only the wakeup signalling.
type Coordinator struct {
	board  *blackboard.Board
	logger *zap.Logger

	mu       sync.Mutex
	awaiting bool
	received bool
	wake     chan struct{}
}

// NewCoordinator returns a Coordinator bound to the board.
func NewCoordinator(board *blackboard.Board, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		board:  board,
		logger: logger.Named("interaction"),
		wake:   make(chan struct{}, 1),
	}
}

// WaitForApproval blocks until the operator submits feedback or ctx is
// cancelled. In automated mode it returns immediately with empty feedback
// and touches no state. The returned text is whatever the operator typed;
// interpreting "approve" is the caller's concern.
func (c *Coordinator) WaitForApproval(ctx context.Context, step, message string) (string, error) {
	if c.board.InteractionState().Mode == blackboard.ModeAutomated {
		return "", nil
	}

	c.mu.Lock()
	c.awaiting = true
	c.received = false
	c.mu.Unlock()
	select {
	case <-c.wake: // drop a stale wakeup from an earlier step
	default:
	}

	c.board.BeginWaiting(step, message)
	c.logger.Info("waiting for operator input", zap.String("step", step))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.awaiting = false
			c.received = false
			c.mu.Unlock()
			c.board.TakeUserFeedback()
			c.board.EndWaiting()
			return "", ctx.Err()
		case <-c.wake:
		case <-ticker.C:
			// Covers a wakeup lost between the drain and BeginWaiting.
		}

		c.mu.Lock()
		got := c.received
		if got {
			c.received = false
			c.awaiting = false
		}
		c.mu.Unlock()
		if got {
			text := c.board.TakeUserFeedback()
			c.board.EndWaiting()
			c.logger.Info("operator input received", zap.String("step", step))
			return text, nil
		}
	}
}

// SubmitFeedback stores the operator text on the board and wakes the waiting
// step. Safe to call when nothing is waiting.
func (c *Coordinator) SubmitFeedback(text string) {
	c.board.SetUserFeedback(text)
	c.mu.Lock()
	c.received = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Waiting reports whether a step is currently paused on operator input.
func (c *Coordinator) Waiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}
