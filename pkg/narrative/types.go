// Package narrative defines the data model of the Phantom State engine.
//
// The engine guarantees bounded character knowledge by construction:
// every read is gated by take ancestry, temporal cutoff, and ownership,
// so a consumer can only retrieve what a character is entitled to at a
// given point in the story. The types in this package are the records
// those gated reads return; the engine itself lives in the engine
// subpackage.
package narrative

// TakeStatus is the lifecycle state of a take (a branch of narrative state).
type TakeStatus string

const (
	// TakeActive marks a take that is currently being written to.
	TakeActive TakeStatus = "active"

	// TakeArchived marks a take that is kept for reference but no longer used.
	TakeArchived TakeStatus = "archived"

	// TakeTrunk marks the canonical line of the story.
	TakeTrunk TakeStatus = "trunk"
)

// IsValid reports whether s is a recognised take status.
func (s TakeStatus) IsValid() bool {
	switch s {
	case TakeActive, TakeArchived, TakeTrunk:
		return true
	}
	return false
}

// ChunkType classifies the role of an experiential memory.
type ChunkType string

const (
	// ChunkSaid is an utterance the character spoke.
	ChunkSaid ChunkType = "said"

	// ChunkHeard is an utterance the character heard someone else speak.
	ChunkHeard ChunkType = "heard"

	// ChunkInternal is a private thought.
	ChunkInternal ChunkType = "internal"

	// ChunkPerceived is a sensory observation.
	ChunkPerceived ChunkType = "perceived"

	// ChunkAction is something the character did.
	ChunkAction ChunkType = "action"
)

// IsValid reports whether c is a recognised chunk type.
func (c ChunkType) IsValid() bool {
	switch c {
	case ChunkSaid, ChunkHeard, ChunkInternal, ChunkPerceived, ChunkAction:
		return true
	}
	return false
}

// Well-known knowledge sources. The source field of a knowledge event is
// an open vocabulary: these values cover the common cases, but callers may
// record their own tags (e.g. "overheard", "deduced").
const (
	SourceWitnessed  = "witnessed"
	SourceTold       = "told"
	SourceInferred   = "inferred"
	SourceDiscovered = "discovered"
)

// Moment is a temporal marker. Sequence is the only ordering authority in
// the engine: gating never consults wall-clock time. Moments are immutable
// after creation and no two moments share a sequence.
type Moment struct {
	// ID is the stable, caller-chosen identifier.
	ID string

	// Sequence is the globally unique ordering number.
	Sequence int64

	// Label is an optional human-readable name.
	Label string

	// Metadata is a free-form attribute bag.
	Metadata map[string]any
}

// Take is a branch of narrative state. Takes form a forest: a take with a
// nil parent is a root, and the ancestry of a take is itself plus the
// transitive parent chain.
type Take struct {
	// ID is the auto-assigned integer identifier.
	ID int64

	// ParentTakeID is the parent take, or nil for a root.
	ParentTakeID *int64

	// BranchPoint is the moment id where this take diverged from its
	// parent. Informational only — gating uses ancestry and sequence.
	BranchPoint string

	// CreatedAt is the creation timestamp as recorded by the store.
	CreatedAt string

	// Status is the lifecycle state.
	Status TakeStatus

	// Notes is free-form commentary.
	Notes string
}

// Character is a persistent agent. Registration provisions a private
// experiential-memory store keyed by the character id; that store is only
// readable through operations scoped to the same id.
type Character struct {
	// ID is the stable, caller-chosen identifier.
	ID string

	// Name is the display name.
	Name string

	// Traits is a free-form personality bag.
	Traits map[string]any

	// Voice is a free-form speech-pattern bag.
	Voice map[string]any
}

// Fact is a world truth independent of observers. A fact never belongs to
// a character; characters are linked to facts through knowledge events.
//
// When a Fact is returned from a gated read, Source and MomentID describe
// the knowledge event that admitted it: how and when the queried character
// came to know it.
type Fact struct {
	// ID is the auto-assigned integer identifier.
	ID int64

	// Content is the fact text.
	Content string

	// Category is a caller-chosen grouping label.
	Category string

	// Source is how the character learned the fact (see Source* constants).
	Source string

	// MomentID is when the character learned the fact.
	MomentID string
}

// KnowledgeEvent records that a character came to know a fact in a
// specific take at a specific moment. At most one event exists per
// (character, fact, take).
type KnowledgeEvent struct {
	ID          int64
	CharacterID string
	FactID      int64
	MomentID    string
	TakeID      int64
	Source      string
}

// Memory is a retrievable experiential chunk private to one character.
type Memory struct {
	// ID is the auto-assigned integer identifier.
	ID int64

	// Chunk is the text content.
	Chunk string

	// ChunkType classifies the memory.
	ChunkType ChunkType

	// Tags is a free-form attribute bag.
	Tags map[string]any

	// MomentID is when the memory occurred.
	MomentID string
}

// CorpusChunk is shared reference text. The corpus is ungated: it is
// filtered only by the caller's explicit source/category/version
// predicates, never by character, moment, or take.
type CorpusChunk struct {
	ID        int64
	Content   string
	Source    string
	Section   string
	Category  string
	Version   string
	CreatedAt string
	Metadata  map[string]any
}

// DialogueResult identifies the memories written by a dialogue fan-out.
type DialogueResult struct {
	// SpeakerMemoryID is the speaker's "said" memory.
	SpeakerMemoryID int64

	// ListenerMemoryIDs are the "heard" memories, one per de-duplicated
	// listener in first-occurrence order.
	ListenerMemoryIDs []int64
}

// CharacterState is the complete bounded view of a character at a moment
// in a take: everything the engine permits a consumer acting as that
// character to see.
type CharacterState struct {
	CharacterID string
	MomentID    string
	TakeID      int64

	// Facts the character knows at this point, gated by ancestry and
	// temporal cutoff.
	Facts []Fact

	// Memories owned by the character, gated the same way. Ordered by
	// similarity when the query supplied text, chronologically otherwise.
	Memories []Memory

	// Corpus is shared reference material, filtered only by the caller's
	// corpus predicates.
	Corpus []CorpusChunk

	// Traits and Voice are the character's attribute bags.
	Traits map[string]any
	Voice  map[string]any
}
