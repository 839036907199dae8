// Package emitter delivers task progress and results to the messaging
// front-end. The processor only sees the Emitter interface; the Telegram
// backend and the chunker that splits long answers live here too.
package emitter

import (
	"context"
	"time"
)

const (
	// MaxMessageLength is the per-message character limit of the front-end.
	MaxMessageLength = 4000

	// sendPacing spaces out consecutive chunks of one long message so the
	// front-end's flood control does not drop them.
	sendPacing = 100 * time.Millisecond
)

// Emitter sends, edits, and deletes front-end messages. Message ids are
// opaque strings scoped to the chat.
type Emitter interface {
	SendMessage(ctx context.Context, chatID, text string) (messageID string, err error)
	EditMessage(ctx context.Context, chatID, messageID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

// SendLong splits text into front-end-sized chunks and sends them in
// order, pacing consecutive sends. Returns the id of the last message.
func SendLong(ctx context.Context, e Emitter, chatID, text string) (string, error) {
	chunks := NewChunker(MaxMessageLength).Chunk(text)
	var lastID string
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-time.After(sendPacing):
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}
		id, err := e.SendMessage(ctx, chatID, chunk)
		if err != nil {
			return lastID, err
		}
		lastID = id
	}
	return lastID, nil
}
