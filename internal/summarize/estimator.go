package summarize

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/recaplabs/chat-recap/internal/store"
)

// fallbackCharsPerToken approximates token counts when no encoding is
// available for the model.
const fallbackCharsPerToken = 4

// Estimator counts tokens for cost projection before a request is sent.
// Encodings are cached per model.
type Estimator struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Estimate returns the approximate token count of text for model. Claude
// models have no public tokenizer so cl100k_base is used as a stand-in,
// with a character heuristic when even that fails to load.
func (e *Estimator) Estimate(model, text string) int {
	if text == "" {
		return 0
	}

	enc := e.encodingFor(model)
	if enc == nil {
		return len(text)/fallbackCharsPerToken + 1
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) encodingFor(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encodings[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Str("model", model).Err(err).Msg("estimator: no encoding, using char heuristic")
			e.encodings[model] = nil
			return nil
		}
	}
	e.encodings[model] = enc
	return enc
}

// FormatMessages renders messages as a transcript, one line per message,
// timestamps in UTC.
func FormatMessages(msgs []store.Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("[")
		sb.WriteString(m.SentAt.UTC().Format("15:04:05"))
		sb.WriteString("] ")
		sb.WriteString(m.Sender)
		sb.WriteString(": ")
		sb.WriteString(m.Text)
	}
	return sb.String()
}
