package engine

import (
	"context"
	"database/sql"
	"os"

	"github.com/phantomstate/phantomstate/pkg/chunker"
	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// LoadCorpusChunkParams configures LoadCorpusChunk.
type LoadCorpusChunkParams struct {
	// Content is the chunk text.
	Content string

	// Source identifies the originating document or collection.
	Source string

	// Section optionally locates the chunk within its source.
	Section string

	// Category optionally groups chunks for filtered retrieval.
	Category string

	// Version optionally tags the chunk for bulk replacement via
	// DeleteCorpusVersion.
	Version string

	// Metadata is a free-form attribute bag.
	Metadata map[string]any
}

// LoadCorpusChunk embeds one chunk of shared reference text and stores it
// in the corpus. The corpus is ungated: every character sees it, filtered
// only by source/category/version predicates.
func (e *Engine) LoadCorpusChunk(ctx context.Context, p LoadCorpusChunkParams) (int64, error) {
	metaJSON, err := encodeBag(p.Metadata)
	if err != nil {
		return 0, err
	}

	if err := e.lockWrite(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	vec, err := e.embedText(ctx, p.Content)
	if err != nil {
		return 0, err
	}

	tx, err := e.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertCorpusChunk(ctx, tx, p, metaJSON, vec)
	if err != nil {
		return 0, err
	}

	if err := commit(tx); err != nil {
		return 0, err
	}
	return id, nil
}

// LoadDocumentParams configures LoadDocument.
type LoadDocumentParams struct {
	// Path is the file to read.
	Path string

	// Source identifies the document in the corpus. Empty means Path.
	Source string

	// Category optionally groups the resulting chunks.
	Category string

	// Version optionally tags the resulting chunks.
	Version string

	// Chunker selects the splitter. Empty means the engine's configured
	// default granularity.
	Chunker chunker.Granularity

	// Metadata is attached to every resulting chunk.
	Metadata map[string]any
}

// LoadDocument reads a file, splits it at the requested granularity,
// batch-embeds the pieces, and inserts them all in one transaction.
// Returns the ids of the inserted chunks in document order.
func (e *Engine) LoadDocument(ctx context.Context, p LoadDocumentParams) ([]int64, error) {
	granularity := p.Chunker
	if granularity == "" {
		granularity = e.granularity
	}
	if !granularity.IsValid() {
		return nil, narrative.Errorf(narrative.KindInvalidEnum, "unknown chunk granularity %q", granularity)
	}
	metaJSON, err := encodeBag(p.Metadata)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "read document %q", p.Path)
	}
	pieces, err := chunker.Split(string(raw), granularity)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindInvalidEnum, err, "split document %q", p.Path)
	}
	if len(pieces) == 0 {
		return nil, nil
	}

	source := p.Source
	if source == "" {
		source = p.Path
	}

	if err := e.lockWrite(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	vecs, err := e.embedTexts(ctx, pieces)
	if err != nil {
		return nil, err
	}

	tx, err := e.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(pieces))
	for i, piece := range pieces {
		id, err := insertCorpusChunk(ctx, tx, LoadCorpusChunkParams{
			Content:  piece,
			Source:   source,
			Category: p.Category,
			Version:  p.Version,
		}, metaJSON, vecs[i])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	e.log.Debug("document loaded", "path", p.Path, "source", source, "chunks", len(ids))
	return ids, nil
}

// DeleteCorpusVersion removes every corpus chunk matching (source,
// version), together with its vector rows, and returns the number of
// chunks deleted. This is the only bulk deletion the engine offers.
func (e *Engine) DeleteCorpusVersion(ctx context.Context, source, version string) (int64, error) {
	if err := e.lockWrite(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	tx, err := e.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM corpus_vec WHERE rowid IN (SELECT id FROM corpus WHERE source = ? AND version = ?)`,
		source, version)
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "delete corpus vectors %s@%s", source, version)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM corpus WHERE source = ? AND version = ?`, source, version)
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "delete corpus %s@%s", source, version)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "delete corpus %s@%s", source, version)
	}

	if err := commit(tx); err != nil {
		return 0, err
	}
	return count, nil
}

// QueryCorpusParams configures QueryCorpus.
type QueryCorpusParams struct {
	// QueryText ranks results by vector similarity. Empty falls back to
	// most-recent ordering, keeping the corpus browsable without an
	// embedding round-trip.
	QueryText string

	// Category, Version, and Source are the only predicates ever applied
	// to the corpus.
	Category string
	Version  string
	Source   string

	// Limit caps the number of results. Non-positive means 20.
	Limit int
}

// QueryCorpus searches the shared corpus. Results depend only on the
// query and the explicit filters — never on any character, moment, or
// take.
func (e *Engine) QueryCorpus(ctx context.Context, p QueryCorpusParams) ([]narrative.CorpusChunk, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	filter := corpusFilter{source: p.Source, category: p.Category, version: p.Version}

	var queryVec string
	if p.QueryText != "" {
		var err error
		if queryVec, err = e.embedText(ctx, p.QueryText); err != nil {
			return nil, err
		}
	}

	if err := e.lockRead(); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	return queryCorpus(ctx, e.db, queryVec, filter, p.Limit)
}

// queryCorpus is the lock-free corpus read shared with QueryState.
// queryVec empty selects recency ordering.
func queryCorpus(ctx context.Context, q querier, queryVec string, filter corpusFilter, limit int) ([]narrative.CorpusChunk, error) {
	var (
		query string
		args  []any
	)
	if queryVec != "" {
		args = []any{queryVec, limit}
		query = queryCorpusSimilarity(filter, &args)
	} else {
		query = queryCorpusRecent(filter, &args)
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query corpus")
	}
	defer rows.Close()

	chunks := []narrative.CorpusChunk{}
	for rows.Next() {
		var (
			c        narrative.CorpusChunk
			section  sql.NullString
			category sql.NullString
			version  sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &section, &category, &version, &c.CreatedAt, &metadata); err != nil {
			return nil, narrative.WrapError(narrative.KindStorageError, err, "scan corpus row")
		}
		c.Section = section.String
		c.Category = category.String
		c.Version = version.String
		if c.Metadata, err = decodeBag(metadata); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query corpus")
	}
	return chunks, nil
}

// insertCorpusChunk writes one corpus row and its vector row inside the
// caller's transaction.
func insertCorpusChunk(ctx context.Context, tx *sql.Tx, p LoadCorpusChunkParams, metaJSON any, vec string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO corpus (content, source, section, category, version, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Content, p.Source, nullable(p.Section), nullable(p.Category), nullable(p.Version), metaJSON)
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert corpus chunk")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "corpus chunk id")
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO corpus_vec (rowid, embedding) VALUES (?, ?)`, id, vec); err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert corpus vector")
	}
	return id, nil
}
