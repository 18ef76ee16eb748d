package rewrite

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a rewrite task's lifecycle position.
type State int32

const (
	StatePending State = iota
	StateGenerating
	StateDeciding
	StateEditing
	StateDone
	StateSkipped
	StateFailed
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateGenerating:
		return "generating"
	case StateDeciding:
		return "deciding"
	case StateEditing:
		return "editing"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	case StateSuperseded:
		return "superseded"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s >= StateDone
}

// Task is the unit of work for one accepted message. Tasks are created
// by [Filter.Accept] and driven by a [Coordinator].
type Task struct {
	ID        string
	ChatID    int64
	TopicID   int
	MessageID int
	// Original is the message text as sent.
	Original string
	Received time.Time
	// Seq orders the task among those submitted for its chat, from 1.
	// Set by [Coordinator.Submit].
	Seq uint64
	// Context is the conversation preceding the message, oldest first,
	// as rendered for the prompt. Set before generation starts.
	Context []string

	state    atomic.Int32
	attempts atomic.Int32
}

func newTask(ev Event) *Task {
	return &Task{
		ID:        uuid.NewString(),
		ChatID:    ev.ChatID,
		TopicID:   ev.TopicID,
		MessageID: ev.MessageID,
		Original:  strings.TrimSpace(ev.Text),
		Received:  time.Now(),
	}
}

// State returns the task's current state.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

// Attempts returns how many generation calls the task has made.
func (t *Task) Attempts() int {
	return int(t.attempts.Load())
}

// Outcome is the terminal result of a task.
type Outcome struct {
	State State
	// Attempts counts generation calls made.
	Attempts int
	// Text is the text committed to the message, for StateDone.
	Text string
	// Reason is a short machine-friendly cause for non-Done outcomes.
	Reason string
	Err    error
}

// Handle lets a submitter observe a task's completion.
type Handle struct {
	task    *Task
	done    chan struct{}
	outcome Outcome
}

func newHandle(t *Task) *Handle {
	return &Handle{task: t, done: make(chan struct{})}
}

func (h *Handle) finish(o Outcome) {
	h.outcome = o
	close(h.done)
}

// Task returns the task this handle tracks.
func (h *Handle) Task() *Task { return h.task }

// Done is closed once the task is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task is terminal and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}
