package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/phantomstate/phantomstate/pkg/narrative"
	"github.com/phantomstate/phantomstate/pkg/narrative/engine"
	"github.com/phantomstate/phantomstate/pkg/provider/embeddings"
	hashembed "github.com/phantomstate/phantomstate/pkg/provider/embeddings/hash"
	mockembed "github.com/phantomstate/phantomstate/pkg/provider/embeddings/mock"
)

const testDims = 16

// newTestEngine opens an engine on a throwaway database file with the
// deterministic hash backend.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return newTestEngineAt(t, filepath.Join(t.TempDir(), "narrative.db"), hashembed.New(testDims))
}

// newTestEngineAt opens an engine at path with the given backend.
func newTestEngineAt(t *testing.T, path string, backend embeddings.Backend) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(context.Background(), engine.Config{
		Path:             path,
		Backend:          backend,
		VectorDimensions: testDims,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

// seedStory creates moment m1 (seq 1), a root take, and characters a and b.
func seedStory(t *testing.T, eng *engine.Engine) (takeID int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := eng.CreateMoment(ctx, "m1", 1, "opening", nil); err != nil {
		t.Fatalf("CreateMoment m1: %v", err)
	}
	takeID, err := eng.CreateTake(ctx, engine.CreateTakeParams{})
	if err != nil {
		t.Fatalf("CreateTake: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := eng.RegisterCharacter(ctx, engine.RegisterCharacterParams{ID: id, Name: id}); err != nil {
			t.Fatalf("RegisterCharacter %s: %v", id, err)
		}
	}
	return takeID
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reopen with same dimensions succeeds", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "narrative.db")
		eng := newTestEngineAt(t, path, hashembed.New(testDims))
		if err := eng.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		newTestEngineAt(t, path, hashembed.New(testDims))
	})

	t.Run("reopen with different dimensions fails loudly", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "narrative.db")
		eng := newTestEngineAt(t, path, hashembed.New(testDims))
		if err := eng.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		_, err := engine.Open(ctx, engine.Config{
			Path:             path,
			Backend:          hashembed.New(8),
			VectorDimensions: 8,
		})
		if !errors.Is(err, narrative.ErrDimensionMismatch) {
			t.Fatalf("Open with mismatched dims: expected DimensionMismatch, got %v", err)
		}
	})

	t.Run("missing backend is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Open(ctx, engine.Config{
			Path:             filepath.Join(t.TempDir(), "narrative.db"),
			VectorDimensions: testDims,
		})
		if err == nil {
			t.Fatal("Open without backend: expected error")
		}
	})
}

func TestClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close (second): %v", err)
	}

	_, err := eng.CreateMoment(ctx, "m1", 1, "", nil)
	if !errors.Is(err, narrative.ErrStorageError) {
		t.Fatalf("CreateMoment after close: expected StorageError, got %v", err)
	}
}

func TestCreateMoment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	if _, err := eng.CreateMoment(ctx, "m1", 1, "opening", map[string]any{"scene": "tavern"}); err != nil {
		t.Fatalf("CreateMoment: %v", err)
	}

	t.Run("metadata round-trips", func(t *testing.T) {
		m, err := eng.GetMoment(ctx, "m1")
		if err != nil {
			t.Fatalf("GetMoment: %v", err)
		}
		if m.Sequence != 1 || m.Label != "opening" {
			t.Fatalf("GetMoment: got %+v", m)
		}
		if m.Metadata["scene"] != "tavern" {
			t.Fatalf("GetMoment metadata: got %v", m.Metadata)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := eng.CreateMoment(ctx, "m1", 2, "", nil)
		if !errors.Is(err, narrative.ErrDuplicateID) {
			t.Fatalf("expected DuplicateId, got %v", err)
		}
	})

	t.Run("duplicate sequence leaves no trace", func(t *testing.T) {
		_, err := eng.CreateMoment(ctx, "x", 1, "", nil)
		if !errors.Is(err, narrative.ErrDuplicateSequence) {
			t.Fatalf("expected DuplicateSequence, got %v", err)
		}
		if _, err := eng.GetMoment(ctx, "x"); !errors.Is(err, narrative.ErrUnknownMoment) {
			t.Fatalf("moment x should not exist, got %v", err)
		}
	})
}

func TestCreateTake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	root, err := eng.CreateTake(ctx, engine.CreateTakeParams{Notes: "first pass"})
	if err != nil {
		t.Fatalf("CreateTake: %v", err)
	}

	t.Run("unknown parent", func(t *testing.T) {
		missing := int64(999)
		_, err := eng.CreateTake(ctx, engine.CreateTakeParams{Parent: &missing})
		if !errors.Is(err, narrative.ErrUnknownTake) {
			t.Fatalf("expected UnknownTake, got %v", err)
		}
	})

	t.Run("unknown branch point", func(t *testing.T) {
		_, err := eng.CreateTake(ctx, engine.CreateTakeParams{Parent: &root, BranchPoint: "nope"})
		if !errors.Is(err, narrative.ErrUnknownMoment) {
			t.Fatalf("expected UnknownMoment, got %v", err)
		}
	})

	t.Run("status defaults to active", func(t *testing.T) {
		takes, err := eng.ListTakes(ctx, engine.ListTakesParams{Status: narrative.TakeActive})
		if err != nil {
			t.Fatalf("ListTakes: %v", err)
		}
		if len(takes) != 1 || takes[0].ID != root {
			t.Fatalf("ListTakes(active): got %+v", takes)
		}
	})
}

func TestSetTakeStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	root, err := eng.CreateTake(ctx, engine.CreateTakeParams{})
	if err != nil {
		t.Fatalf("CreateTake: %v", err)
	}

	t.Run("invalid status", func(t *testing.T) {
		err := eng.SetTakeStatus(ctx, root, narrative.TakeStatus("published"))
		if !errors.Is(err, narrative.ErrInvalidEnum) {
			t.Fatalf("expected InvalidEnum, got %v", err)
		}
	})

	t.Run("unknown take", func(t *testing.T) {
		err := eng.SetTakeStatus(ctx, 999, narrative.TakeTrunk)
		if !errors.Is(err, narrative.ErrUnknownTake) {
			t.Fatalf("expected UnknownTake, got %v", err)
		}
	})

	t.Run("status change is visible", func(t *testing.T) {
		if err := eng.SetTakeStatus(ctx, root, narrative.TakeTrunk); err != nil {
			t.Fatalf("SetTakeStatus: %v", err)
		}
		takes, err := eng.ListTakes(ctx, engine.ListTakesParams{Status: narrative.TakeTrunk})
		if err != nil {
			t.Fatalf("ListTakes: %v", err)
		}
		if len(takes) != 1 || takes[0].ID != root {
			t.Fatalf("ListTakes(trunk): got %+v", takes)
		}
	})
}

func TestGetAncestry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	if _, err := eng.CreateMoment(ctx, "m1", 1, "", nil); err != nil {
		t.Fatalf("CreateMoment: %v", err)
	}
	root, err := eng.CreateTake(ctx, engine.CreateTakeParams{})
	if err != nil {
		t.Fatalf("CreateTake root: %v", err)
	}
	mid, err := eng.Branch(ctx, root, "m1", "")
	if err != nil {
		t.Fatalf("Branch mid: %v", err)
	}
	leaf, err := eng.Branch(ctx, mid, "m1", "")
	if err != nil {
		t.Fatalf("Branch leaf: %v", err)
	}

	lineage, err := eng.GetAncestry(ctx, leaf)
	if err != nil {
		t.Fatalf("GetAncestry: %v", err)
	}
	want := []int64{root, mid, leaf}
	if len(lineage) != len(want) {
		t.Fatalf("GetAncestry: got %v, want %v", lineage, want)
	}
	for i := range want {
		if lineage[i] != want[i] {
			t.Fatalf("GetAncestry: got %v, want %v (root-first)", lineage, want)
		}
	}

	if _, err := eng.GetAncestry(ctx, 999); !errors.Is(err, narrative.ErrUnknownTake) {
		t.Fatalf("GetAncestry(999): expected UnknownTake, got %v", err)
	}
}

func TestRegisterCharacter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	traits := map[string]any{"disposition": "wary"}
	if _, err := eng.RegisterCharacter(ctx, engine.RegisterCharacterParams{ID: "elara", Name: "Elara", Traits: traits}); err != nil {
		t.Fatalf("RegisterCharacter: %v", err)
	}

	t.Run("re-registration fails by default", func(t *testing.T) {
		_, err := eng.RegisterCharacter(ctx, engine.RegisterCharacterParams{ID: "elara", Name: "Elara II"})
		if !errors.Is(err, narrative.ErrDuplicateID) {
			t.Fatalf("expected DuplicateId, got %v", err)
		}
		c, err := eng.GetCharacter(ctx, "elara")
		if err != nil {
			t.Fatalf("GetCharacter: %v", err)
		}
		if c.Name != "Elara" {
			t.Fatalf("name changed without upsert: %q", c.Name)
		}
	})

	t.Run("upsert replaces attribute bags", func(t *testing.T) {
		_, err := eng.RegisterCharacter(ctx, engine.RegisterCharacterParams{
			ID:     "elara",
			Name:   "Elara the Bold",
			Traits: map[string]any{"disposition": "bold"},
			Upsert: true,
		})
		if err != nil {
			t.Fatalf("RegisterCharacter upsert: %v", err)
		}
		c, err := eng.GetCharacter(ctx, "elara")
		if err != nil {
			t.Fatalf("GetCharacter: %v", err)
		}
		if c.Name != "Elara the Bold" || c.Traits["disposition"] != "bold" {
			t.Fatalf("upsert not applied: %+v", c)
		}
	})

	t.Run("upsert keeps the private memory store", func(t *testing.T) {
		if _, err := eng.CreateMoment(ctx, "m1", 1, "", nil); err != nil {
			t.Fatalf("CreateMoment: %v", err)
		}
		take, err := eng.CreateTake(ctx, engine.CreateTakeParams{})
		if err != nil {
			t.Fatalf("CreateTake: %v", err)
		}
		if _, err := eng.EmbedMemory(ctx, engine.EmbedMemoryParams{
			CharacterID: "elara", Chunk: "the gate creaked", MomentID: "m1", TakeID: take, ChunkType: narrative.ChunkPerceived,
		}); err != nil {
			t.Fatalf("EmbedMemory: %v", err)
		}

		if _, err := eng.RegisterCharacter(ctx, engine.RegisterCharacterParams{ID: "elara", Name: "Elara", Upsert: true}); err != nil {
			t.Fatalf("RegisterCharacter upsert: %v", err)
		}
		state, err := eng.QueryState(ctx, engine.QueryStateParams{CharacterID: "elara", MomentID: "m1", TakeID: take})
		if err != nil {
			t.Fatalf("QueryState: %v", err)
		}
		if len(state.Memories) != 1 {
			t.Fatalf("memories lost on upsert: %+v", state.Memories)
		}
	})

	t.Run("unknown character lookup", func(t *testing.T) {
		_, err := eng.GetCharacter(ctx, "nobody")
		if !errors.Is(err, narrative.ErrUnknownCharacter) {
			t.Fatalf("expected UnknownCharacter, got %v", err)
		}
	})
}

func TestLogFact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)

	_, err := eng.LogFact(ctx, "the bridge is out", "obstacle", "missing")
	if !errors.Is(err, narrative.ErrUnknownMoment) {
		t.Fatalf("LogFact with unknown moment: expected UnknownMoment, got %v", err)
	}

	if _, err := eng.CreateMoment(ctx, "m1", 1, "", nil); err != nil {
		t.Fatalf("CreateMoment: %v", err)
	}
	id, err := eng.LogFact(ctx, "the bridge is out", "obstacle", "m1")
	if err != nil {
		t.Fatalf("LogFact: %v", err)
	}
	if id == 0 {
		t.Fatal("LogFact: expected a non-zero id")
	}
}

func TestLogKnowledge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)
	take := seedStory(t, eng)

	fid, err := eng.LogFact(ctx, "the treasure is under the oak", "secret", "m1")
	if err != nil {
		t.Fatalf("LogFact: %v", err)
	}

	t.Run("referential validation", func(t *testing.T) {
		if _, err := eng.LogKnowledge(ctx, "nobody", fid, "m1", take, ""); !errors.Is(err, narrative.ErrUnknownCharacter) {
			t.Fatalf("expected UnknownCharacter, got %v", err)
		}
		if _, err := eng.LogKnowledge(ctx, "a", 999, "m1", take, ""); !errors.Is(err, narrative.ErrUnknownFact) {
			t.Fatalf("expected UnknownFact, got %v", err)
		}
		if _, err := eng.LogKnowledge(ctx, "a", fid, "nope", take, ""); !errors.Is(err, narrative.ErrUnknownMoment) {
			t.Fatalf("expected UnknownMoment, got %v", err)
		}
		if _, err := eng.LogKnowledge(ctx, "a", fid, "m1", 999, ""); !errors.Is(err, narrative.ErrUnknownTake) {
			t.Fatalf("expected UnknownTake, got %v", err)
		}
	})

	t.Run("repeat calls are idempotent", func(t *testing.T) {
		first, err := eng.LogKnowledge(ctx, "a", fid, "m1", take, narrative.SourceDiscovered)
		if err != nil {
			t.Fatalf("LogKnowledge: %v", err)
		}
		// Differing source and moment still return the original event.
		if _, err := eng.CreateMoment(ctx, "m2", 2, "", nil); err != nil {
			t.Fatalf("CreateMoment m2: %v", err)
		}
		again, err := eng.LogKnowledge(ctx, "a", fid, "m2", take, narrative.SourceTold)
		if err != nil {
			t.Fatalf("LogKnowledge repeat: %v", err)
		}
		if again != first {
			t.Fatalf("repeat LogKnowledge: got id %d, want %d", again, first)
		}
	})

	t.Run("another take gets its own event", func(t *testing.T) {
		first, err := eng.LogKnowledge(ctx, "a", fid, "m1", take, narrative.SourceDiscovered)
		if err != nil {
			t.Fatalf("LogKnowledge: %v", err)
		}
		other, err := eng.Branch(ctx, take, "m1", "")
		if err != nil {
			t.Fatalf("Branch: %v", err)
		}
		second, err := eng.LogKnowledge(ctx, "a", fid, "m1", other, narrative.SourceDiscovered)
		if err != nil {
			t.Fatalf("LogKnowledge in branch: %v", err)
		}
		if second == first {
			t.Fatal("knowledge event ids should differ across takes")
		}
	})
}

func TestEmbedMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng := newTestEngine(t)
	take := seedStory(t, eng)

	t.Run("invalid chunk type", func(t *testing.T) {
		_, err := eng.EmbedMemory(ctx, engine.EmbedMemoryParams{
			CharacterID: "a", Chunk: "x", MomentID: "m1", TakeID: take, ChunkType: "remembered",
		})
		if !errors.Is(err, narrative.ErrInvalidEnum) {
			t.Fatalf("expected InvalidEnum, got %v", err)
		}
	})

	t.Run("unknown character", func(t *testing.T) {
		_, err := eng.EmbedMemory(ctx, engine.EmbedMemoryParams{
			CharacterID: "nobody", Chunk: "x", MomentID: "m1", TakeID: take, ChunkType: narrative.ChunkInternal,
		})
		if !errors.Is(err, narrative.ErrUnknownCharacter) {
			t.Fatalf("expected UnknownCharacter, got %v", err)
		}
	})

	t.Run("memory round-trips with tags", func(t *testing.T) {
		id, err := eng.EmbedMemory(ctx, engine.EmbedMemoryParams{
			CharacterID: "a", Chunk: "the door was locked", MomentID: "m1", TakeID: take,
			ChunkType: narrative.ChunkPerceived, Tags: map[string]any{"mood": "tense"},
		})
		if err != nil {
			t.Fatalf("EmbedMemory: %v", err)
		}
		state, err := eng.QueryState(ctx, engine.QueryStateParams{CharacterID: "a", MomentID: "m1", TakeID: take})
		if err != nil {
			t.Fatalf("QueryState: %v", err)
		}
		if len(state.Memories) != 1 || state.Memories[0].ID != id {
			t.Fatalf("QueryState memories: got %+v", state.Memories)
		}
		got := state.Memories[0]
		if got.ChunkType != narrative.ChunkPerceived || got.Tags["mood"] != "tense" {
			t.Fatalf("memory round-trip: got %+v", got)
		}
	})
}

func TestEmbeddingFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("backend error aborts the write", func(t *testing.T) {
		t.Parallel()
		backend := &mockembed.Backend{DimensionsValue: testDims, EmbedErr: errors.New("model offline")}
		eng := newTestEngineAt(t, filepath.Join(t.TempDir(), "narrative.db"), backend)
		take := seedStory(t, eng)

		_, err := eng.EmbedMemory(ctx, engine.EmbedMemoryParams{
			CharacterID: "a", Chunk: "x", MomentID: "m1", TakeID: take, ChunkType: narrative.ChunkInternal,
		})
		if !errors.Is(err, narrative.ErrEmbeddingUnavailable) {
			t.Fatalf("expected EmbeddingUnavailable, got %v", err)
		}

		backend.EmbedErr = nil
		backend.EmbedResult = make([]float32, testDims)
		state, err := eng.QueryState(ctx, engine.QueryStateParams{CharacterID: "a", MomentID: "m1", TakeID: take})
		if err != nil {
			t.Fatalf("QueryState: %v", err)
		}
		if len(state.Memories) != 0 {
			t.Fatalf("failed embed left rows behind: %+v", state.Memories)
		}
	})

	t.Run("wrong width fails before any row is inserted", func(t *testing.T) {
		t.Parallel()
		backend := &mockembed.Backend{DimensionsValue: testDims, EmbedResult: make([]float32, testDims+1)}
		eng := newTestEngineAt(t, filepath.Join(t.TempDir(), "narrative.db"), backend)
		take := seedStory(t, eng)

		_, err := eng.EmbedMemory(ctx, engine.EmbedMemoryParams{
			CharacterID: "a", Chunk: "x", MomentID: "m1", TakeID: take, ChunkType: narrative.ChunkInternal,
		})
		if !errors.Is(err, narrative.ErrDimensionMismatch) {
			t.Fatalf("expected DimensionMismatch, got %v", err)
		}

		backend.EmbedResult = make([]float32, testDims)
		state, err := eng.QueryState(ctx, engine.QueryStateParams{CharacterID: "a", MomentID: "m1", TakeID: take})
		if err != nil {
			t.Fatalf("QueryState: %v", err)
		}
		if len(state.Memories) != 0 {
			t.Fatalf("mismatched embed left rows behind: %+v", state.Memories)
		}
	})
}
