package chat

import (
	"log/slog"
	"sync"

	"stella-backend/internal/database"

	"github.com/pkoukk/tiktoken-go"
)

// HistoryWindow trims conversation history to the most recent turns that fit
// within both limits. A zero limit disables that limit.
type HistoryWindow struct {
	MaxMessages int
	MaxTokens   int
	Count       func(string) int
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens counts cl100k tokens, or approximates them when the encoding
// cannot be loaded.
func CountTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("unable to load tiktoken encoding, approximating token counts", "error", err)
			return
		}
		encoder = enc
	})

	if encoder == nil {
		return (len(text) + 3) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

func (w HistoryWindow) Apply(turns []Turn) []Turn {
	count := w.Count
	if count == nil {
		count = CountTokens
	}

	var kept []Turn
	tokens := 0
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Content == "" || (turn.Role != database.RoleUser && turn.Role != database.RoleAssistant) {
			continue
		}
		if w.MaxMessages > 0 && len(kept) >= w.MaxMessages {
			break
		}

		n := count(turn.Content)
		if w.MaxTokens > 0 && tokens+n > w.MaxTokens {
			break
		}
		tokens += n
		kept = append(kept, turn)
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func TurnsFromMessages(msgs []database.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}
