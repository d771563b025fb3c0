package engine

import (
	"fmt"
	"strings"
)

// Every gated read composes the same three predicates: take ancestry
// (recursive walk up parent_take_id from the requested take), temporal
// cutoff (moment sequence at or below the target moment's sequence), and
// ownership (knowledge_events.character_id for facts, the per-character
// vector store for memories). Vector similarity layers on top of the
// same predicates.

// ancestryCTE is the recursive take-ancestry prefix shared by all gated
// queries. Its single placeholder is the requested take id.
const ancestryCTE = `
WITH RECURSIVE ancestry(id) AS (
    SELECT ?
    UNION ALL
    SELECT t.parent_take_id
    FROM takes t
    JOIN ancestry a ON t.id = a.id
    WHERE t.parent_take_id IS NOT NULL
)`

// queryAncestry lists a take's lineage. Placeholder: take id. Rows come
// back child-first; callers reverse for root-first order.
const queryAncestry = ancestryCTE + `
SELECT id FROM ancestry`

// queryFacts returns the facts a character knows at a moment in a take
// lineage. A fact learned in more than one ancestor take collapses to a
// single row carrying its earliest admitting event. Chronological order
// is stable on (sequence, fact id).
//
// Placeholders: take id, character id, target moment id, limit.
const queryFacts = ancestryCTE + `
SELECT f.id, f.content, f.category, ke.source, ke.moment_id, MIN(m.sequence) AS seq
FROM facts f
JOIN knowledge_events ke ON f.id = ke.fact_id
JOIN moments m ON ke.moment_id = m.id
WHERE ke.character_id = ?
  AND ke.take_id IN (SELECT id FROM ancestry)
  AND m.sequence <= (SELECT sequence FROM moments WHERE id = ?)
GROUP BY f.id
ORDER BY seq, f.id
LIMIT ?`

// queryMemoriesChronological returns a character's gated memories in
// story order. Placeholders: take id, character id, target moment id,
// limit.
const queryMemoriesChronological = ancestryCTE + `
SELECT mm.id, mm.chunk, mm.chunk_type, mm.tags, mm.moment_id
FROM memory_metadata mm
JOIN moments mo ON mm.moment_id = mo.id
WHERE mm.character_id = ?
  AND mm.take_id IN (SELECT id FROM ancestry)
  AND mo.sequence <= (SELECT sequence FROM moments WHERE id = ?)
ORDER BY mo.sequence, mm.id
LIMIT ?`

// queryMemoriesSimilarity returns a character's gated memories nearest to
// a query vector. The KNN scan runs against the character's private
// vector table (vecTable is a generated surrogate name, never caller
// input) and the gating predicates join on top, so the result may hold
// fewer than k rows.
//
// Placeholders: take id, query vector, k, character id, target moment id.
func queryMemoriesSimilarity(vecTable string) string {
	return ancestryCTE + fmt.Sprintf(`
SELECT mm.id, mm.chunk, mm.chunk_type, mm.tags, mm.moment_id
FROM %s mv
JOIN memory_metadata mm ON mv.rowid = mm.id
JOIN moments mo ON mm.moment_id = mo.id
WHERE mv.embedding MATCH ?
  AND k = ?
  AND mm.character_id = ?
  AND mm.take_id IN (SELECT id FROM ancestry)
  AND mo.sequence <= (SELECT sequence FROM moments WHERE id = ?)
ORDER BY mv.distance, mm.id`, vecTable)
}

// corpusFilter accumulates the caller's optional corpus predicates. The
// corpus is ungated: these are the only filters ever applied to it.
type corpusFilter struct {
	source   string
	category string
	version  string
}

// where renders the filter as AND conditions appended to args.
func (f corpusFilter) where(args *[]any) string {
	var conditions []string
	if f.source != "" {
		conditions = append(conditions, "c.source = ?")
		*args = append(*args, f.source)
	}
	if f.category != "" {
		conditions = append(conditions, "c.category = ?")
		*args = append(*args, f.category)
	}
	if f.version != "" {
		conditions = append(conditions, "c.version = ?")
		*args = append(*args, f.version)
	}
	if len(conditions) == 0 {
		return ""
	}
	return " AND " + strings.Join(conditions, " AND ")
}

// queryCorpusSimilarity builds the KNN corpus query. Leading
// placeholders: query vector, k; the filter appends its own.
func queryCorpusSimilarity(f corpusFilter, args *[]any) string {
	return `
SELECT c.id, c.content, c.source, c.section, c.category, c.version, c.created_at, c.metadata
FROM corpus_vec cv
JOIN corpus c ON cv.rowid = c.id
WHERE cv.embedding MATCH ?
  AND k = ?` + f.where(args) + `
ORDER BY cv.distance, c.id`
}

// queryCorpusRecent builds the most-recent-first corpus query. The filter
// appends its placeholders first; the trailing placeholder is the limit.
func queryCorpusRecent(f corpusFilter, args *[]any) string {
	where := f.where(args)
	if where != "" {
		where = " WHERE " + strings.TrimPrefix(where, " AND ")
	}
	return `
SELECT c.id, c.content, c.source, c.section, c.category, c.version, c.created_at, c.metadata
FROM corpus c` + where + `
ORDER BY c.created_at DESC, c.id DESC
LIMIT ?`
}
