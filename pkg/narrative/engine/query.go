package engine

import (
	"context"
	"database/sql"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// QueryStateParams configures QueryState.
type QueryStateParams struct {
	// CharacterID selects whose bounded view to assemble.
	CharacterID string

	// MomentID is the temporal cutoff: nothing after this moment's
	// sequence is visible.
	MomentID string

	// TakeID selects the branch lineage: only writes in this take's
	// ancestry are visible.
	TakeID int64

	// QueryText, when non-empty, ranks memories (and corpus chunks) by
	// vector similarity instead of story order.
	QueryText string

	// FactLimit caps returned facts. Non-positive means 50.
	FactLimit int

	// MemoryLimit caps returned memories. Non-positive means 20.
	MemoryLimit int

	// IncludeCorpus controls whether shared corpus chunks are attached.
	// Nil means true.
	IncludeCorpus *bool

	// CorpusLimit caps returned corpus chunks. Non-positive means 20.
	CorpusLimit int

	// CorpusCategory and CorpusVersion filter the corpus portion.
	CorpusCategory string
	CorpusVersion  string
}

// QueryState assembles everything a character is entitled to at a moment
// in a take: traits and voice, gated facts, gated memories, and (unless
// excluded) filtered corpus chunks. This is the engine's single unified
// read; the bounded-knowledge guarantee lives in the predicates it
// composes.
func (e *Engine) QueryState(ctx context.Context, p QueryStateParams) (*narrative.CharacterState, error) {
	if p.FactLimit <= 0 {
		p.FactLimit = 50
	}
	if p.MemoryLimit <= 0 {
		p.MemoryLimit = 20
	}
	if p.CorpusLimit <= 0 {
		p.CorpusLimit = 20
	}
	includeCorpus := p.IncludeCorpus == nil || *p.IncludeCorpus

	// Embed the query text once, before taking the read lock; the same
	// vector serves memories and corpus.
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

	character, err := getCharacter(ctx, e.db, p.CharacterID)
	if err != nil {
		return nil, err
	}
	vecTable, err := characterVecTable(ctx, e.db, p.CharacterID)
	if err != nil {
		return nil, err
	}
	if _, err := momentSequence(ctx, e.db, p.MomentID); err != nil {
		return nil, err
	}
	if err := requireTake(ctx, e.db, p.TakeID); err != nil {
		return nil, err
	}

	state := &narrative.CharacterState{
		CharacterID: p.CharacterID,
		MomentID:    p.MomentID,
		TakeID:      p.TakeID,
		Traits:      character.Traits,
		Voice:       character.Voice,
		Corpus:      []narrative.CorpusChunk{},
	}

	if state.Facts, err = queryFactsGated(ctx, e.db, p.CharacterID, p.MomentID, p.TakeID, p.FactLimit); err != nil {
		return nil, err
	}

	if queryVec != "" {
		state.Memories, err = queryMemoriesGatedSimilarity(ctx, e.db, vecTable, p.CharacterID, p.MomentID, p.TakeID, queryVec, p.MemoryLimit)
	} else {
		state.Memories, err = queryMemoriesGatedChronological(ctx, e.db, p.CharacterID, p.MomentID, p.TakeID, p.MemoryLimit)
	}
	if err != nil {
		return nil, err
	}

	if includeCorpus {
		filter := corpusFilter{category: p.CorpusCategory, version: p.CorpusVersion}
		if state.Corpus, err = queryCorpus(ctx, e.db, queryVec, filter, p.CorpusLimit); err != nil {
			return nil, err
		}
	}

	return state, nil
}

// queryFactsGated runs the gated facts query.
func queryFactsGated(ctx context.Context, q querier, characterID, momentID string, takeID int64, limit int) ([]narrative.Fact, error) {
	rows, err := q.QueryContext(ctx, queryFacts, takeID, characterID, momentID, limit)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query facts for %s", characterID)
	}
	defer rows.Close()

	facts := []narrative.Fact{}
	for rows.Next() {
		var (
			f      narrative.Fact
			source sql.NullString
			seq    int64
		)
		if err := rows.Scan(&f.ID, &f.Content, &f.Category, &source, &f.MomentID, &seq); err != nil {
			return nil, narrative.WrapError(narrative.KindStorageError, err, "scan fact row")
		}
		f.Source = source.String
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query facts for %s", characterID)
	}
	return facts, nil
}

// queryMemoriesGatedChronological runs the gated memory query in story
// order.
func queryMemoriesGatedChronological(ctx context.Context, q querier, characterID, momentID string, takeID int64, limit int) ([]narrative.Memory, error) {
	rows, err := q.QueryContext(ctx, queryMemoriesChronological, takeID, characterID, momentID, limit)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query memories for %s", characterID)
	}
	defer rows.Close()
	return scanMemories(rows, characterID)
}

// queryMemoriesGatedSimilarity runs the gated memory query ranked by
// distance from the query vector.
func queryMemoriesGatedSimilarity(ctx context.Context, q querier, vecTable, characterID, momentID string, takeID int64, queryVec string, limit int) ([]narrative.Memory, error) {
	rows, err := q.QueryContext(ctx, queryMemoriesSimilarity(vecTable), takeID, queryVec, limit, characterID, momentID)
	if err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query memories for %s", characterID)
	}
	defer rows.Close()
	return scanMemories(rows, characterID)
}

// scanMemories assembles Memory records from either memory query shape.
func scanMemories(rows *sql.Rows, characterID string) ([]narrative.Memory, error) {
	memories := []narrative.Memory{}
	for rows.Next() {
		var (
			m         narrative.Memory
			chunkType string
			tags      sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Chunk, &chunkType, &tags, &m.MomentID); err != nil {
			return nil, narrative.WrapError(narrative.KindStorageError, err, "scan memory row")
		}
		m.ChunkType = narrative.ChunkType(chunkType)
		var err error
		if m.Tags, err = decodeBag(tags); err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, narrative.WrapError(narrative.KindStorageError, err, "query memories for %s", characterID)
	}
	return memories, nil
}
