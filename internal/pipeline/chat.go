package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// DefaultChatTimeout bounds a single completion.
const DefaultChatTimeout = 60 * time.Second

var (
	// ErrEmptyQuestion is returned for blank chat messages.
	ErrEmptyQuestion = errors.New("empty question")
	// ErrChatUnavailable is returned when no completer is configured.
	ErrChatUnavailable = errors.New("chat assistant not configured")
)

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SnapshotProvider returns the risk map to answer from.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) domain.RiskSnapshot
}

// ChatService answers questions about the risk map.
type ChatService struct {
	snapshots SnapshotProvider
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// NewChatService creates a ChatService. A nil completer makes every question
// fail with ErrChatUnavailable.
func NewChatService(snapshots SnapshotProvider, completer Completer, timeout time.Duration, logger *slog.Logger) *ChatService {
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}
	return &ChatService{snapshots: snapshots, completer: completer, timeout: timeout, logger: logger}
}

// Enabled reports whether a completer is configured.
func (c *ChatService) Enabled() bool { return c.completer != nil }

// Ask embeds the current risk map in the assistant prompt and returns the
// completion. Exceeding the timeout yields domain.ErrCompletionTimeout.
func (c *ChatService) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if c.completer == nil {
		return "", ErrChatUnavailable
	}

	snap := c.snapshots.Snapshot(ctx)
	prompt := domain.BuildPrompt(domain.KnowledgeBase(snap), question)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrCompletionTimeout) {
			err = fmt.Errorf("%w: %w", domain.ErrCompletionTimeout, err)
		}
		c.logger.Warn("chat completion failed", "error", err, "snapshot_id", snap.ID)
		return "", err
	}
	return answer, nil
}
