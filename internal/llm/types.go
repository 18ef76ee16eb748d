package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brainrot/tg-llm-rewrite/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is what a provider sends. System carries the rewrite
// instructions and any conversation context; User is the text to
// rewrite.
type ChatRequest struct {
	Model      string
	Credential string
	System     string
	User       string
}

// messages renders the request as a system + user pair.
func (r ChatRequest) messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.System})
	}
	return append(msgs, Message{Role: RoleUser, Content: r.User})
}

// ErrorKind classifies a failed generation call.
type ErrorKind int

const (
	// KindTimeout means no answer arrived within the call timeout.
	KindTimeout ErrorKind = iota + 1
	// KindUnavailable means the backend could not be reached or
	// answered with a server-side error. Worth retrying.
	KindUnavailable
	// KindRejected means the backend refused the request (bad
	// credential, unknown model). Retrying will not help.
	KindRejected
	// KindEmpty means the backend answered with no usable text.
	KindEmpty
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "backend_unavailable"
	case KindRejected:
		return "backend_rejected"
	case KindEmpty:
		return "empty_response"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindUnavailable
}

// GenerationError is a classified generation failure.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or 0 if err is not a
// *GenerationError.
func KindOf(err error) ErrorKind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}

func newError(kind ErrorKind, format string, args ...any) *GenerationError {
	return &GenerationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// classifyTransport maps an http.Client error to a generation error.
func classifyTransport(provider string, err error) error {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	if httpkit.IsTimeout(err) {
		return &GenerationError{Kind: KindTimeout, Err: fmt.Errorf("%s: %w", provider, err)}
	}
	if httpkit.IsConnError(err) {
		return &GenerationError{Kind: KindUnavailable, Err: fmt.Errorf("%s unreachable: %w", provider, err)}
	}
	return &GenerationError{Kind: KindUnavailable, Err: fmt.Errorf("%s: %w", provider, err)}
}

// classifyStatus maps a non-2xx HTTP status to a generation error.
func classifyStatus(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return newError(KindUnavailable, "%s API error %d: %s", provider, status, body)
	case status >= 500:
		return newError(KindUnavailable, "%s API error %d: %s", provider, status, body)
	default:
		return newError(KindRejected, "%s API error %d: %s", provider, status, body)
	}
}
