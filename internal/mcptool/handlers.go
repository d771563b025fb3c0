package mcptool

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phantomstate/phantomstate/pkg/chunker"
	"github.com/phantomstate/phantomstate/pkg/narrative"
	"github.com/phantomstate/phantomstate/pkg/narrative/engine"
)

// ─────────────────────────────────────────────────────────────────────────────
// create_moment
// ─────────────────────────────────────────────────────────────────────────────

type createMomentIn struct {
	ID       string         `json:"id" jsonschema:"unique moment identifier"`
	Sequence int64          `json:"sequence" jsonschema:"globally unique ordering number"`
	Label    string         `json:"label,omitempty" jsonschema:"human-readable label"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"additional JSON metadata"`
}

type createMomentOut struct {
	MomentID string `json:"moment_id" jsonschema:"the created moment id"`
}

func (s *Server) createMoment(ctx context.Context, _ *mcp.CallToolRequest, in createMomentIn) (*mcp.CallToolResult, createMomentOut, error) {
	start := time.Now()
	id, err := s.engine.CreateMoment(ctx, in.ID, in.Sequence, in.Label, in.Metadata)
	s.record(ctx, "create_moment", start, err)
	if err != nil {
		return errorResult(err), createMomentOut{}, nil
	}
	return nil, createMomentOut{MomentID: id}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// create_take / branch / list_takes / set_take_status / get_ancestry
// ─────────────────────────────────────────────────────────────────────────────

type createTakeIn struct {
	ParentTakeID *int64 `json:"parent_take_id,omitempty" jsonschema:"parent take id (omit for a root take)"`
	BranchPoint  string `json:"branch_point,omitempty" jsonschema:"moment id where the branch occurs"`
	Notes        string `json:"notes,omitempty" jsonschema:"human-readable notes"`
}

type createTakeOut struct {
	TakeID int64 `json:"take_id" jsonschema:"the created take id"`
}

func (s *Server) createTake(ctx context.Context, _ *mcp.CallToolRequest, in createTakeIn) (*mcp.CallToolResult, createTakeOut, error) {
	start := time.Now()
	id, err := s.engine.CreateTake(ctx, engine.CreateTakeParams{
		Parent:      in.ParentTakeID,
		BranchPoint: in.BranchPoint,
		Notes:       in.Notes,
	})
	s.record(ctx, "create_take", start, err)
	if err != nil {
		return errorResult(err), createTakeOut{}, nil
	}
	return nil, createTakeOut{TakeID: id}, nil
}

type branchIn struct {
	ParentTakeID int64  `json:"parent_take_id" jsonschema:"take to branch from"`
	BranchPoint  string `json:"branch_point" jsonschema:"moment id where the branch occurs"`
	Notes        string `json:"notes,omitempty" jsonschema:"human-readable notes"`
}

func (s *Server) branch(ctx context.Context, _ *mcp.CallToolRequest, in branchIn) (*mcp.CallToolResult, createTakeOut, error) {
	start := time.Now()
	id, err := s.engine.Branch(ctx, in.ParentTakeID, in.BranchPoint, in.Notes)
	s.record(ctx, "branch", start, err)
	if err != nil {
		return errorResult(err), createTakeOut{}, nil
	}
	return nil, createTakeOut{TakeID: id}, nil
}

type listTakesIn struct {
	Status      string `json:"status,omitempty" jsonschema:"filter by status (active, archived, trunk)"`
	BranchPoint string `json:"branch_point,omitempty" jsonschema:"filter by branch point moment id"`
}

type takeOut struct {
	ID           int64  `json:"id"`
	ParentTakeID *int64 `json:"parent_take_id,omitempty"`
	BranchPoint  string `json:"branch_point,omitempty"`
	CreatedAt    string `json:"created_at"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
}

type listTakesOut struct {
	Takes []takeOut `json:"takes"`
}

func (s *Server) listTakes(ctx context.Context, _ *mcp.CallToolRequest, in listTakesIn) (*mcp.CallToolResult, listTakesOut, error) {
	start := time.Now()
	takes, err := s.engine.ListTakes(ctx, engine.ListTakesParams{
		Status:      narrative.TakeStatus(in.Status),
		BranchPoint: in.BranchPoint,
	})
	s.record(ctx, "list_takes", start, err)
	if err != nil {
		return errorResult(err), listTakesOut{}, nil
	}
	out := listTakesOut{Takes: make([]takeOut, 0, len(takes))}
	for _, t := range takes {
		out.Takes = append(out.Takes, takeOut{
			ID:           t.ID,
			ParentTakeID: t.ParentTakeID,
			BranchPoint:  t.BranchPoint,
			CreatedAt:    t.CreatedAt,
			Status:       string(t.Status),
			Notes:        t.Notes,
		})
	}
	return nil, out, nil
}

type setTakeStatusIn struct {
	TakeID int64  `json:"take_id" jsonschema:"take to update"`
	Status string `json:"status" jsonschema:"new status (active, archived, trunk)"`
}

type setTakeStatusOut struct {
	TakeID int64  `json:"take_id"`
	Status string `json:"status"`
}

func (s *Server) setTakeStatus(ctx context.Context, _ *mcp.CallToolRequest, in setTakeStatusIn) (*mcp.CallToolResult, setTakeStatusOut, error) {
	start := time.Now()
	err := s.engine.SetTakeStatus(ctx, in.TakeID, narrative.TakeStatus(in.Status))
	s.record(ctx, "set_take_status", start, err)
	if err != nil {
		return errorResult(err), setTakeStatusOut{}, nil
	}
	return nil, setTakeStatusOut{TakeID: in.TakeID, Status: in.Status}, nil
}

type getAncestryIn struct {
	TakeID int64 `json:"take_id" jsonschema:"take whose lineage to return"`
}

type getAncestryOut struct {
	TakeIDs []int64 `json:"take_ids" jsonschema:"root-first lineage including the take itself"`
}

func (s *Server) getAncestry(ctx context.Context, _ *mcp.CallToolRequest, in getAncestryIn) (*mcp.CallToolResult, getAncestryOut, error) {
	start := time.Now()
	ids, err := s.engine.GetAncestry(ctx, in.TakeID)
	s.record(ctx, "get_ancestry", start, err)
	if err != nil {
		return errorResult(err), getAncestryOut{}, nil
	}
	return nil, getAncestryOut{TakeIDs: ids}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// register_character / get_character
// ─────────────────────────────────────────────────────────────────────────────

type registerCharacterIn struct {
	ID     string         `json:"id" jsonschema:"unique character identifier"`
	Name   string         `json:"name" jsonschema:"display name"`
	Traits map[string]any `json:"traits,omitempty" jsonschema:"JSON personality constraints"`
	Voice  map[string]any `json:"voice,omitempty" jsonschema:"JSON speech patterns/markers"`
	Upsert bool           `json:"upsert,omitempty" jsonschema:"replace attribute bags when the character already exists"`
}

type registerCharacterOut struct {
	CharacterID string `json:"character_id"`
}

func (s *Server) registerCharacter(ctx context.Context, _ *mcp.CallToolRequest, in registerCharacterIn) (*mcp.CallToolResult, registerCharacterOut, error) {
	start := time.Now()
	id, err := s.engine.RegisterCharacter(ctx, engine.RegisterCharacterParams{
		ID:     in.ID,
		Name:   in.Name,
		Traits: in.Traits,
		Voice:  in.Voice,
		Upsert: in.Upsert,
	})
	s.record(ctx, "register_character", start, err)
	if err != nil {
		return errorResult(err), registerCharacterOut{}, nil
	}
	return nil, registerCharacterOut{CharacterID: id}, nil
}

type getCharacterIn struct {
	CharacterID string `json:"character_id" jsonschema:"character to fetch"`
}

type characterOut struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Traits map[string]any `json:"traits"`
	Voice  map[string]any `json:"voice"`
}

func (s *Server) getCharacter(ctx context.Context, _ *mcp.CallToolRequest, in getCharacterIn) (*mcp.CallToolResult, characterOut, error) {
	start := time.Now()
	c, err := s.engine.GetCharacter(ctx, in.CharacterID)
	s.record(ctx, "get_character", start, err)
	if err != nil {
		return errorResult(err), characterOut{}, nil
	}
	return nil, characterOut{ID: c.ID, Name: c.Name, Traits: c.Traits, Voice: c.Voice}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// log_fact / log_knowledge
// ─────────────────────────────────────────────────────────────────────────────

type logFactIn struct {
	Content  string `json:"content" jsonschema:"the fact text"`
	Category string `json:"category" jsonschema:"category label"`
	MomentID string `json:"moment_id" jsonschema:"moment when the fact was established"`
}

type logFactOut struct {
	FactID int64 `json:"fact_id"`
}

func (s *Server) logFact(ctx context.Context, _ *mcp.CallToolRequest, in logFactIn) (*mcp.CallToolResult, logFactOut, error) {
	start := time.Now()
	id, err := s.engine.LogFact(ctx, in.Content, in.Category, in.MomentID)
	s.record(ctx, "log_fact", start, err)
	if err != nil {
		return errorResult(err), logFactOut{}, nil
	}
	return nil, logFactOut{FactID: id}, nil
}

type logKnowledgeIn struct {
	CharacterID string `json:"character_id" jsonschema:"who learned the fact"`
	FactID      int64  `json:"fact_id" jsonschema:"which fact was learned"`
	MomentID    string `json:"moment_id" jsonschema:"when they learned it"`
	TakeID      int64  `json:"take_id" jsonschema:"in which take"`
	Source      string `json:"source,omitempty" jsonschema:"how they learned it (witnessed, told, inferred, discovered, or a custom tag)"`
}

type logKnowledgeOut struct {
	EventID int64 `json:"event_id" jsonschema:"the knowledge event id (existing id when already recorded)"`
}

func (s *Server) logKnowledge(ctx context.Context, _ *mcp.CallToolRequest, in logKnowledgeIn) (*mcp.CallToolResult, logKnowledgeOut, error) {
	start := time.Now()
	id, err := s.engine.LogKnowledge(ctx, in.CharacterID, in.FactID, in.MomentID, in.TakeID, in.Source)
	s.record(ctx, "log_knowledge", start, err)
	if err != nil {
		return errorResult(err), logKnowledgeOut{}, nil
	}
	return nil, logKnowledgeOut{EventID: id}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// embed_memory / dialogue
// ─────────────────────────────────────────────────────────────────────────────

type embedMemoryIn struct {
	CharacterID string         `json:"character_id" jsonschema:"whose memory this is"`
	Chunk       string         `json:"chunk" jsonschema:"the text content"`
	MomentID    string         `json:"moment_id" jsonschema:"when it occurred"`
	TakeID      int64          `json:"take_id" jsonschema:"in which take"`
	ChunkType   string         `json:"chunk_type" jsonschema:"said, heard, internal, perceived, or action"`
	Tags        map[string]any `json:"tags,omitempty" jsonschema:"additional JSON tags"`
}

type embedMemoryOut struct {
	MemoryID int64 `json:"memory_id"`
}

func (s *Server) embedMemory(ctx context.Context, _ *mcp.CallToolRequest, in embedMemoryIn) (*mcp.CallToolResult, embedMemoryOut, error) {
	start := time.Now()
	id, err := s.engine.EmbedMemory(ctx, engine.EmbedMemoryParams{
		CharacterID: in.CharacterID,
		Chunk:       in.Chunk,
		MomentID:    in.MomentID,
		TakeID:      in.TakeID,
		ChunkType:   narrative.ChunkType(in.ChunkType),
		Tags:        in.Tags,
	})
	s.record(ctx, "embed_memory", start, err)
	if err != nil {
		return errorResult(err), embedMemoryOut{}, nil
	}
	return nil, embedMemoryOut{MemoryID: id}, nil
}

type dialogueIn struct {
	Speaker      string         `json:"speaker" jsonschema:"character id of the speaker"`
	Content      string         `json:"content" jsonschema:"what was said"`
	MomentID     string         `json:"moment_id" jsonschema:"when it was said"`
	TakeID       int64          `json:"take_id" jsonschema:"in which take"`
	Listeners    []string       `json:"listeners,omitempty" jsonschema:"character ids who heard it"`
	SpeakerTags  map[string]any `json:"speaker_tags,omitempty" jsonschema:"tags for the speaker's memory"`
	ListenerTags map[string]any `json:"listener_tags,omitempty" jsonschema:"tags for the listeners' memories"`
}

type dialogueOut struct {
	SpeakerMemoryID   int64   `json:"speaker_memory_id"`
	ListenerMemoryIDs []int64 `json:"listener_memory_ids"`
}

func (s *Server) dialogue(ctx context.Context, _ *mcp.CallToolRequest, in dialogueIn) (*mcp.CallToolResult, dialogueOut, error) {
	start := time.Now()
	res, err := s.engine.Dialogue(ctx, engine.DialogueParams{
		Speaker:      in.Speaker,
		Content:      in.Content,
		MomentID:     in.MomentID,
		TakeID:       in.TakeID,
		Listeners:    in.Listeners,
		SpeakerTags:  in.SpeakerTags,
		ListenerTags: in.ListenerTags,
	})
	s.record(ctx, "dialogue", start, err)
	if err != nil {
		return errorResult(err), dialogueOut{}, nil
	}
	return nil, dialogueOut{
		SpeakerMemoryID:   res.SpeakerMemoryID,
		ListenerMemoryIDs: res.ListenerMemoryIDs,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// corpus tools
// ─────────────────────────────────────────────────────────────────────────────

type loadCorpusChunkIn struct {
	Content  string         `json:"content" jsonschema:"the chunk text"`
	Source   string         `json:"source" jsonschema:"originating document or collection"`
	Section  string         `json:"section,omitempty" jsonschema:"location within the source"`
	Category string         `json:"category,omitempty" jsonschema:"grouping label"`
	Version  string         `json:"version,omitempty" jsonschema:"version tag for bulk replacement"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"additional JSON metadata"`
}

type loadCorpusChunkOut struct {
	CorpusID int64 `json:"corpus_id"`
}

func (s *Server) loadCorpusChunk(ctx context.Context, _ *mcp.CallToolRequest, in loadCorpusChunkIn) (*mcp.CallToolResult, loadCorpusChunkOut, error) {
	start := time.Now()
	id, err := s.engine.LoadCorpusChunk(ctx, engine.LoadCorpusChunkParams{
		Content:  in.Content,
		Source:   in.Source,
		Section:  in.Section,
		Category: in.Category,
		Version:  in.Version,
		Metadata: in.Metadata,
	})
	s.record(ctx, "load_corpus_chunk", start, err)
	if err != nil {
		return errorResult(err), loadCorpusChunkOut{}, nil
	}
	return nil, loadCorpusChunkOut{CorpusID: id}, nil
}

type loadDocumentIn struct {
	Path     string         `json:"path" jsonschema:"file to read"`
	Source   string         `json:"source" jsonschema:"corpus source label (defaults to path)"`
	Category string         `json:"category,omitempty" jsonschema:"grouping label"`
	Version  string         `json:"version,omitempty" jsonschema:"version tag"`
	Chunker  string         `json:"chunker,omitempty" jsonschema:"sentence, paragraph, page, or manual (defaults to the configured granularity)"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"metadata attached to every chunk"`
}

type loadDocumentOut struct {
	CorpusIDs []int64 `json:"corpus_ids" jsonschema:"ids of the inserted chunks in document order"`
}

func (s *Server) loadDocument(ctx context.Context, _ *mcp.CallToolRequest, in loadDocumentIn) (*mcp.CallToolResult, loadDocumentOut, error) {
	start := time.Now()
	ids, err := s.engine.LoadDocument(ctx, engine.LoadDocumentParams{
		Path:     in.Path,
		Source:   in.Source,
		Category: in.Category,
		Version:  in.Version,
		Chunker:  chunker.Granularity(in.Chunker),
		Metadata: in.Metadata,
	})
	s.record(ctx, "load_document", start, err)
	if err != nil {
		return errorResult(err), loadDocumentOut{}, nil
	}
	return nil, loadDocumentOut{CorpusIDs: ids}, nil
}

type deleteCorpusVersionIn struct {
	Source  string `json:"source" jsonschema:"corpus source"`
	Version string `json:"version" jsonschema:"version tag to delete"`
}

type deleteCorpusVersionOut struct {
	Deleted int64 `json:"deleted" jsonschema:"number of chunks removed"`
}

func (s *Server) deleteCorpusVersion(ctx context.Context, _ *mcp.CallToolRequest, in deleteCorpusVersionIn) (*mcp.CallToolResult, deleteCorpusVersionOut, error) {
	start := time.Now()
	n, err := s.engine.DeleteCorpusVersion(ctx, in.Source, in.Version)
	s.record(ctx, "delete_corpus_version", start, err)
	if err != nil {
		return errorResult(err), deleteCorpusVersionOut{}, nil
	}
	return nil, deleteCorpusVersionOut{Deleted: n}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// query_state / query_corpus
// ─────────────────────────────────────────────────────────────────────────────

type queryStateIn struct {
	CharacterID    string `json:"character_id" jsonschema:"which character"`
	MomentID       string `json:"moment_id" jsonschema:"temporal cutoff"`
	TakeID         int64  `json:"take_id" jsonschema:"take lineage to read"`
	QueryText      string `json:"query_text,omitempty" jsonschema:"rank memories and corpus by similarity to this text"`
	FactLimit      int    `json:"fact_limit,omitempty" jsonschema:"max facts (default 50)"`
	MemoryLimit    int    `json:"memory_limit,omitempty" jsonschema:"max memories (default 20)"`
	IncludeCorpus  *bool  `json:"include_corpus,omitempty" jsonschema:"attach shared corpus chunks (default true)"`
	CorpusLimit    int    `json:"corpus_limit,omitempty" jsonschema:"max corpus chunks (default 20)"`
	CorpusCategory string `json:"corpus_category,omitempty" jsonschema:"corpus category filter"`
	CorpusVersion  string `json:"corpus_version,omitempty" jsonschema:"corpus version filter"`
}

type factOut struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	Category string `json:"category"`
	Source   string `json:"source,omitempty"`
	MomentID string `json:"moment_id"`
}

type memoryOut struct {
	ID        int64          `json:"id"`
	Chunk     string         `json:"chunk"`
	ChunkType string         `json:"chunk_type"`
	Tags      map[string]any `json:"tags"`
	MomentID  string         `json:"moment_id"`
}

type corpusChunkOut struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Source    string         `json:"source"`
	Section   string         `json:"section,omitempty"`
	Category  string         `json:"category,omitempty"`
	Version   string         `json:"version,omitempty"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

type queryStateOut struct {
	CharacterID string           `json:"character_id"`
	MomentID    string           `json:"moment_id"`
	TakeID      int64            `json:"take_id"`
	Traits      map[string]any   `json:"traits"`
	Voice       map[string]any   `json:"voice"`
	Facts       []factOut        `json:"facts"`
	Memories    []memoryOut      `json:"memories"`
	Corpus      []corpusChunkOut `json:"corpus"`
}

func (s *Server) queryState(ctx context.Context, _ *mcp.CallToolRequest, in queryStateIn) (*mcp.CallToolResult, queryStateOut, error) {
	start := time.Now()
	state, err := s.engine.QueryState(ctx, engine.QueryStateParams{
		CharacterID:    in.CharacterID,
		MomentID:       in.MomentID,
		TakeID:         in.TakeID,
		QueryText:      in.QueryText,
		FactLimit:      in.FactLimit,
		MemoryLimit:    in.MemoryLimit,
		IncludeCorpus:  in.IncludeCorpus,
		CorpusLimit:    in.CorpusLimit,
		CorpusCategory: in.CorpusCategory,
		CorpusVersion:  in.CorpusVersion,
	})
	s.record(ctx, "query_state", start, err)
	if err != nil {
		return errorResult(err), queryStateOut{}, nil
	}

	out := queryStateOut{
		CharacterID: state.CharacterID,
		MomentID:    state.MomentID,
		TakeID:      state.TakeID,
		Traits:      state.Traits,
		Voice:       state.Voice,
		Facts:       make([]factOut, 0, len(state.Facts)),
		Memories:    make([]memoryOut, 0, len(state.Memories)),
		Corpus:      make([]corpusChunkOut, 0, len(state.Corpus)),
	}
	for _, f := range state.Facts {
		out.Facts = append(out.Facts, factOut{
			ID:       f.ID,
			Content:  f.Content,
			Category: f.Category,
			Source:   f.Source,
			MomentID: f.MomentID,
		})
	}
	for _, m := range state.Memories {
		out.Memories = append(out.Memories, memoryOut{
			ID:        m.ID,
			Chunk:     m.Chunk,
			ChunkType: string(m.ChunkType),
			Tags:      m.Tags,
			MomentID:  m.MomentID,
		})
	}
	for _, c := range state.Corpus {
		out.Corpus = append(out.Corpus, corpusChunkToOut(c))
	}
	return nil, out, nil
}

type queryCorpusIn struct {
	QueryText string `json:"query_text,omitempty" jsonschema:"rank by similarity to this text (empty returns most recent)"`
	Category  string `json:"category,omitempty" jsonschema:"category filter"`
	Version   string `json:"version,omitempty" jsonschema:"version filter"`
	Source    string `json:"source,omitempty" jsonschema:"source filter"`
	Limit     int    `json:"limit,omitempty" jsonschema:"max chunks (default 20)"`
}

type queryCorpusOut struct {
	Chunks []corpusChunkOut `json:"chunks"`
}

func (s *Server) queryCorpus(ctx context.Context, _ *mcp.CallToolRequest, in queryCorpusIn) (*mcp.CallToolResult, queryCorpusOut, error) {
	start := time.Now()
	chunks, err := s.engine.QueryCorpus(ctx, engine.QueryCorpusParams{
		QueryText: in.QueryText,
		Category:  in.Category,
		Version:   in.Version,
		Source:    in.Source,
		Limit:     in.Limit,
	})
	s.record(ctx, "query_corpus", start, err)
	if err != nil {
		return errorResult(err), queryCorpusOut{}, nil
	}
	out := queryCorpusOut{Chunks: make([]corpusChunkOut, 0, len(chunks))}
	for _, c := range chunks {
		out.Chunks = append(out.Chunks, corpusChunkToOut(c))
	}
	return nil, out, nil
}

func corpusChunkToOut(c narrative.CorpusChunk) corpusChunkOut {
	return corpusChunkOut{
		ID:        c.ID,
		Content:   c.Content,
		Source:    c.Source,
		Section:   c.Section,
		Category:  c.Category,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		Metadata:  c.Metadata,
	}
}
