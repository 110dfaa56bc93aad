// Package export renders a user's conversation history as CSV for data
// portability. One row per message, ordered by conversation then message
// insertion order.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/storage"
)

// header is written verbatim; the space after each comma is part of the
// published export format.
const header = "conversation_id, conversation_title, conversation_created_at, " +
	"message_id, message_role, message_content, message_timestamp, message_model"

// utf8BOM lets spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// pageSize bounds each conversation listing query.
const pageSize = 100

// Exporter streams a user's conversations as CSV.
type Exporter struct {
	store  storage.Store
	logger *observability.Logger
}

// New creates an exporter over the repository.
func New(store storage.Store, logger *observability.Logger) *Exporter {
	return &Exporter{store: store, logger: logger}
}

// WriteCSV writes every conversation owned by userID to w: a UTF-8 BOM,
// the header row, then one row per message in conversation order.
// Conversations whose messages cannot be loaded abort the export; a
// partial file is worse than a failed one.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, userID uint64) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}

	if _, err := io.WriteString(w, header+"\r\n"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	for offset := 0; ; offset += pageSize {
		conversations, err := e.store.ListConversations(ctx, userID, pageSize, offset)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(conversations) == 0 {
			break
		}

		for _, conv := range conversations {
			messages, err := e.store.ListMessages(ctx, conv.ID)
			if err != nil {
				return fmt.Errorf("list messages for %s: %w", conv.ID, err)
			}
			for _, msg := range messages {
				row := []string{
					conv.ID,
					conv.Title,
					conv.CreatedAt.UTC().Format(timeLayout),
					msg.ID,
					string(msg.Role),
					msg.Content,
					msg.Timestamp.UTC().Format(timeLayout),
					msg.Model,
				}
				if err := cw.Write(row); err != nil {
					return fmt.Errorf("write row: %w", err)
				}
			}
		}
		if len(conversations) < pageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}
