package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

// EmbedMemoryParams configures EmbedMemory.
type EmbedMemoryParams struct {
	// CharacterID is the owner. The memory is only ever readable through
	// operations scoped to this character.
	CharacterID string

	// Chunk is the text content to embed and store.
	Chunk string

	// MomentID is when the memory occurred.
	MomentID string

	// TakeID is the branch the memory belongs to.
	TakeID int64

	// ChunkType classifies the memory.
	ChunkType narrative.ChunkType

	// Tags is a free-form attribute bag.
	Tags map[string]any
}

// EmbedMemory embeds a chunk of experiential text and stores it in the
// owning character's private vector store. The embedding runs before the
// transaction opens, so a failing backend aborts the write with no
// partial state.
func (e *Engine) EmbedMemory(ctx context.Context, p EmbedMemoryParams) (int64, error) {
	if !p.ChunkType.IsValid() {
		return 0, narrative.Errorf(narrative.KindInvalidEnum, "unknown chunk type %q", p.ChunkType)
	}
	tagsJSON, err := encodeBag(p.Tags)
	if err != nil {
		return 0, err
	}

	if err := e.lockWrite(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	vecTable, err := characterVecTable(ctx, e.db, p.CharacterID)
	if err != nil {
		return 0, err
	}
	if _, err := momentSequence(ctx, e.db, p.MomentID); err != nil {
		return 0, err
	}
	if err := requireTake(ctx, e.db, p.TakeID); err != nil {
		return 0, err
	}

	vec, err := e.embedText(ctx, p.Chunk)
	if err != nil {
		return 0, err
	}

	tx, err := e.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertMemory(ctx, tx, vecTable, p, tagsJSON, vec)
	if err != nil {
		return 0, err
	}

	if err := commit(tx); err != nil {
		return 0, err
	}
	return id, nil
}

// DialogueParams configures the atomic dialogue fan-out.
type DialogueParams struct {
	// Speaker is the character id of whoever is talking.
	Speaker string

	// Content is the utterance.
	Content string

	// MomentID is when it was said.
	MomentID string

	// TakeID is the branch it was said in.
	TakeID int64

	// Listeners are the character ids who heard it. Duplicates are
	// dropped, preserving first occurrence.
	Listeners []string

	// SpeakerTags is the attribute bag attached to the speaker's memory.
	SpeakerTags map[string]any

	// ListenerTags is the attribute bag attached to every listener memory.
	ListenerTags map[string]any
}

// Dialogue fans one utterance into per-listener views: the speaker
// receives a "said" memory and each listener a "heard" memory with
// identical content, moment, and take. The content is embedded once and
// the vector shared by every row; all inserts commit together or none
// do.
func (e *Engine) Dialogue(ctx context.Context, p DialogueParams) (*narrative.DialogueResult, error) {
	speakerTags, err := encodeBag(p.SpeakerTags)
	if err != nil {
		return nil, err
	}
	listenerTags, err := encodeBag(p.ListenerTags)
	if err != nil {
		return nil, err
	}

	listeners := dedupe(p.Listeners)

	if err := e.lockWrite(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	speakerVec, err := characterVecTable(ctx, e.db, p.Speaker)
	if err != nil {
		return nil, err
	}
	listenerVecs := make([]string, len(listeners))
	for i, l := range listeners {
		if listenerVecs[i], err = characterVecTable(ctx, e.db, l); err != nil {
			return nil, err
		}
	}
	if _, err := momentSequence(ctx, e.db, p.MomentID); err != nil {
		return nil, err
	}
	if err := requireTake(ctx, e.db, p.TakeID); err != nil {
		return nil, err
	}

	// One utterance, one embedding: identical content for every
	// participant means the vector can be shared.
	vec, err := e.embedText(ctx, p.Content)
	if err != nil {
		return nil, err
	}

	tx, err := e.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &narrative.DialogueResult{
		ListenerMemoryIDs: make([]int64, 0, len(listeners)),
	}

	result.SpeakerMemoryID, err = insertMemory(ctx, tx, speakerVec, EmbedMemoryParams{
		CharacterID: p.Speaker,
		Chunk:       p.Content,
		MomentID:    p.MomentID,
		TakeID:      p.TakeID,
		ChunkType:   narrative.ChunkSaid,
	}, speakerTags, vec)
	if err != nil {
		return nil, err
	}

	for i, l := range listeners {
		id, err := insertMemory(ctx, tx, listenerVecs[i], EmbedMemoryParams{
			CharacterID: l,
			Chunk:       p.Content,
			MomentID:    p.MomentID,
			TakeID:      p.TakeID,
			ChunkType:   narrative.ChunkHeard,
		}, listenerTags, vec)
		if err != nil {
			return nil, err
		}
		result.ListenerMemoryIDs = append(result.ListenerMemoryIDs, id)
	}

	if err := commit(tx); err != nil {
		return nil, err
	}
	return result, nil
}

// insertMemory writes one memory_metadata row and its vector row inside
// the caller's transaction. The vector row shares the metadata rowid so
// KNN hits join straight back to their metadata.
func insertMemory(ctx context.Context, tx *sql.Tx, vecTable string, p EmbedMemoryParams, tagsJSON any, vec string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO memory_metadata (character_id, chunk, moment_id, take_id, chunk_type, tags) VALUES (?, ?, ?, ?, ?, ?)`,
		p.CharacterID, p.Chunk, p.MomentID, p.TakeID, string(p.ChunkType), tagsJSON)
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert memory for %s", p.CharacterID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "memory id")
	}

	insert := fmt.Sprintf(`INSERT INTO %s (rowid, embedding) VALUES (?, ?)`, vecTable)
	if _, err := tx.ExecContext(ctx, insert, id, vec); err != nil {
		return 0, narrative.WrapError(narrative.KindStorageError, err, "insert vector for %s", p.CharacterID)
	}
	return id, nil
}

// dedupe drops duplicate ids preserving first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
