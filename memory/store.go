package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

var (
	// ErrInvalidSession is returned for an empty or malformed session id.
	ErrInvalidSession = errors.New("memory: invalid session id")
	// ErrNilConversation is returned when saving a nil conversation.
	ErrNilConversation = errors.New("memory: conversation is nil")
)

// Store loads and saves conversations by session id. Load returns an empty
// conversation when no record exists.
type Store interface {
	Load(ctx context.Context, sessionID string) (*core.Conversation, error)
	Save(ctx context.Context, sessionID string, conv *core.Conversation) error
}

// Options configures a Store.
type Options struct {
	// HistoryCap bounds the number of persisted chats. Zero keeps all.
	HistoryCap int
	Logger     logging.Logger
}

// WithHistoryCap trims the oldest chats before persisting so that at most n
// remain. System messages are always kept.
func WithHistoryCap(n int) func(o *Options) {
	return func(o *Options) { o.HistoryCap = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

func newOptions(optFns []func(o *Options)) Options {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return opts
}

func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	if strings.ContainsAny(sessionID, "\x00\n\r") {
		return fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	return nil
}

// CapHistory returns a copy of conv holding at most n chats: every system
// message plus the newest others. Tool results whose call was cut off are
// dropped as well. n <= 0 returns a plain copy.
func CapHistory(conv *core.Conversation, n int) *core.Conversation {
	out := &core.Conversation{ID: conv.ID}
	chats := conv.Chats()
	if n <= 0 || len(chats) <= n {
		out.Append(chats...)
		return out
	}

	systems := 0
	for _, ch := range chats {
		if ch.Role == core.RoleSystem {
			systems++
		}
	}
	room := n - systems
	if room < 0 {
		room = 0
	}

	keep := make([]bool, len(chats))
	for i := len(chats) - 1; i >= 0; i-- {
		if chats[i].Role == core.RoleSystem {
			keep[i] = true
			continue
		}
		if room > 0 {
			keep[i] = true
			room--
		}
	}
	// A leading tool result without its call is not a valid turn.
	for i := range chats {
		if !keep[i] || chats[i].Role == core.RoleSystem {
			continue
		}
		if chats[i].Role != core.RoleTool {
			break
		}
		keep[i] = false
	}

	for i, ch := range chats {
		if keep[i] {
			out.Append(ch)
		}
	}
	return out
}

// encode serializes conv after applying the history cap.
func encode(conv *core.Conversation, historyCap int) ([]byte, int, error) {
	if conv == nil {
		return nil, 0, ErrNilConversation
	}
	capped := CapHistory(conv, historyCap)
	data, err := json.Marshal(capped)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode conversation: %w", err)
	}
	return data, capped.Len(), nil
}

// decode restores a persisted conversation under the session id.
func decode(sessionID string, data []byte) (*core.Conversation, error) {
	conv := &core.Conversation{}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", sessionID, err)
	}
	conv.ID = sessionID
	return conv, nil
}

func emptyConversation(sessionID string) *core.Conversation {
	return &core.Conversation{ID: sessionID}
}
