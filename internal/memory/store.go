package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Item is the Memory Item entity (§3): a durable fact recalled into
// future prompts.
type Item struct {
	ID             string
	GroupFolder    string
	ConflictKey    string
	Content        string
	Tags           []string
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the persistence contract behind §4.10.
type Store interface {
	// Upsert writes an item. When ConflictKey is non-empty and an item
	// with the same (groupFolder, conflictKey) already exists, its
	// content/tags/embedding are replaced rather than duplicated
	// (§3's uniqueness invariant).
	Upsert(ctx context.Context, item Item) (Item, error)

	Forget(ctx context.Context, groupFolder, id string) error

	// KeywordSearch returns candidates ranked by FTS5 bm25 relevance.
	KeywordSearch(ctx context.Context, groupFolder, query string, limit int) ([]Item, error)

	// AllWithEmbeddings returns every item in groupFolder that carries
	// a vector, for in-process cosine scoring (§4.10).
	AllWithEmbeddings(ctx context.Context, groupFolder string) ([]Item, error)

	// PendingEmbeddings returns items missing a vector, for the
	// embedding-backfill hook to process in batches.
	PendingEmbeddings(ctx context.Context, limit int) ([]Item, error)

	SetEmbedding(ctx context.Context, id string, embedding []float32, model string) error
}

type sqlStore struct{ db *sql.DB }

// NewStore returns a SQLite+FTS5-backed Store.
func NewStore(db *sql.DB) Store { return &sqlStore{db: db} }

func (s *sqlStore) Upsert(ctx context.Context, item Item) (Item, error) {
	now := time.Now()
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return Item{}, err
	}

	if item.ConflictKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM memory_items WHERE group_folder = ? AND conflict_key = ?`,
			item.GroupFolder, item.ConflictKey).Scan(&existingID)
		if err == nil {
			item.ID = existingID
			_, err = s.db.ExecContext(ctx, `UPDATE memory_items SET content=?, tags=?, embedding=NULL, embedding_model='', updated_at=? WHERE id = ?`,
				item.Content, string(tags), now.UnixMilli(), item.ID)
			if err != nil {
				return Item{}, err
			}
			item.UpdatedAt = now
			return item, nil
		}
		if err != sql.ErrNoRows {
			return Item{}, err
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt, item.UpdatedAt = now, now
	_, err = s.db.ExecContext(ctx, `INSERT INTO memory_items (id, group_folder, conflict_key, content, tags, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
		item.ID, item.GroupFolder, item.ConflictKey, item.Content, string(tags), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Item{}, fmt.Errorf("insert memory item: %w", err)
	}
	return item, nil
}

func (s *sqlStore) Forget(ctx context.Context, groupFolder, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ? AND group_folder = ?`, id, groupFolder)
	return err
}

func (s *sqlStore) KeywordSearch(ctx context.Context, groupFolder, query string, limit int) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.group_folder, m.conflict_key, m.content, m.tags, m.embedding, m.embedding_model, m.created_at, m.updated_at
		FROM memory_fts f
		JOIN memory_items m ON m.rowid = f.rowid
		WHERE f.memory_fts MATCH ? AND m.group_folder = ?
		ORDER BY bm25(f) LIMIT ?`, ftsQuery(query), groupFolder, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *sqlStore) AllWithEmbeddings(ctx context.Context, groupFolder string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_folder, conflict_key, content, tags, embedding, embedding_model, created_at, updated_at
		FROM memory_items WHERE group_folder = ? AND embedding IS NOT NULL`, groupFolder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *sqlStore) PendingEmbeddings(ctx context.Context, limit int) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_folder, conflict_key, content, tags, embedding, embedding_model, created_at, updated_at
		FROM memory_items WHERE embedding IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *sqlStore) SetEmbedding(ctx context.Context, id string, embedding []float32, model string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_items SET embedding=?, embedding_model=? WHERE id = ?`,
		encodeEmbedding(embedding), model, id)
	return err
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var it Item
		var conflictKey, embeddingModel sql.NullString
		var tagsJSON string
		var embeddingBlob []byte
		var createdAt, updatedAt int64
		if err := rows.Scan(&it.ID, &it.GroupFolder, &conflictKey, &it.Content, &tagsJSON, &embeddingBlob, &embeddingModel, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		it.ConflictKey = conflictKey.String
		it.EmbeddingModel = embeddingModel.String
		_ = json.Unmarshal([]byte(tagsJSON), &it.Tags)
		it.Embedding = decodeEmbedding(embeddingBlob)
		it.CreatedAt = time.UnixMilli(createdAt)
		it.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ftsQuery wraps free text in double quotes so punctuation in the
// recall query never trips FTS5's column-filter syntax.
func ftsQuery(q string) string {
	return `"` + q + `"`
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
