package conversation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inlay/internal/logging"
)

// listingEnvelope is the only accepted payload shape.
type listingEnvelope struct {
	Object  string            `json:"object"`
	Data    []json.RawMessage `json:"data"`
	FirstID string            `json:"first_id"`
	LastID  string            `json:"last_id"`
}

// listingRow covers both recognized row shapes. Unknown fields are ignored.
type listingRow struct {
	Type       string        `json:"type"`
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	ResponseID string        `json:"response_id"`
	Content    []ContentItem `json:"content"`
	Output     *struct {
		Type     string `json:"type"`
		ImageURL string `json:"image_url"`
	} `json:"output"`
}

// Normalizer converts raw listing payloads into Messages and dedupes whole
// payloads by signature, so the same listing observed twice (both tap
// mechanisms, pagination echoes) is processed once.
type Normalizer struct {
	store *Store
	log   *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewNormalizer creates a normalizer feeding the given store.
func NewNormalizer(store *Store) *Normalizer {
	return &Normalizer{
		store: store,
		log:   logging.Get(logging.CategoryPayload),
		seen:  make(map[string]struct{}),
	}
}

// Ingest parses one raw listing body scoped to a conversation and upserts
// the recognized rows. Anything that is not a {object:"list", data:[...]}
// envelope is a silent no-op; unrecognized rows are skipped, not errors.
// Returns the number of messages upserted.
func (n *Normalizer) Ingest(conversationID string, body []byte) int {
	if conversationID == "" {
		conversationID = UnknownConversation
	}

	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		n.log.Debug("payload is not JSON, skipping", zap.Error(err))
		return 0
	}
	if env.Object != "list" || env.Data == nil {
		n.log.Debug("payload is not a listing envelope, skipping",
			zap.String("object", env.Object))
		return 0
	}

	rows := make([]listingRow, 0, len(env.Data))
	for _, raw := range env.Data {
		var row listingRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}

	sig := signature(conversationID, rows)
	n.mu.Lock()
	if _, dup := n.seen[sig]; dup {
		n.mu.Unlock()
		n.log.Debug("duplicate listing payload, skipping",
			zap.String("conversation", conversationID),
			zap.String("signature", sig))
		return 0
	}
	n.seen[sig] = struct{}{}
	n.mu.Unlock()

	count := 0
	for _, row := range rows {
		msg := n.normalizeRow(conversationID, row)
		if msg == nil {
			continue
		}
		n.store.Upsert(msg)
		count++
	}
	n.log.Debug("listing ingested",
		zap.String("conversation", conversationID),
		zap.Int("rows", len(rows)),
		zap.Int("messages", count))
	return count
}

// SeenPayloads returns how many distinct payload signatures were ingested.
func (n *Normalizer) SeenPayloads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

func (n *Normalizer) normalizeRow(conversationID string, row listingRow) *Message {
	switch row.Type {
	case "message":
		id := row.ID
		if id == "" {
			id = "msg_" + uuid.NewString()
		}
		return &Message{
			ID:             id,
			Role:           ParseRole(row.Role),
			Content:        row.Content,
			ResponseID:     row.ResponseID,
			ConversationID: conversationID,
		}
	case "computer_call_output":
		if row.Output == nil || row.Output.ImageURL == "" {
			return nil
		}
		id := row.ID
		if id == "" {
			id = "cco_" + uuid.NewString()
		}
		return &Message{
			ID:   id,
			Role: RoleTool,
			Content: []ContentItem{{
				Type:     "output_image",
				ImageURL: row.Output.ImageURL,
			}},
			ResponseID:     row.ResponseID,
			ConversationID: conversationID,
		}
	default:
		return nil
	}
}

// signature identifies one observed listing: conversation, first and last
// row ids, and row count.
func signature(conversationID string, rows []listingRow) string {
	first, last := "", ""
	if len(rows) > 0 {
		first = rows[0].ID
		last = rows[len(rows)-1].ID
	}
	return fmt.Sprintf("%s|%s|%s|%d", conversationID, first, last, len(rows))
}
