package mcptool

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phantomstate/phantomstate/pkg/narrative"
	"github.com/phantomstate/phantomstate/pkg/narrative/engine"
	hashembed "github.com/phantomstate/phantomstate/pkg/provider/embeddings/hash"
)

// newTestServer wires a Server around a throwaway engine with the hash
// backend. Metrics are nil — recording is a no-op in tests.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.Open(context.Background(), engine.Config{
		Path:             filepath.Join(t.TempDir(), "narrative.db"),
		Backend:          hashembed.New(16),
		VectorDimensions: 16,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return New(eng, nil, nil)
}

func TestCreateMomentHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)

	res, out, err := s.createMoment(ctx, nil, createMomentIn{ID: "m1", Sequence: 1, Label: "opening"})
	if err != nil {
		t.Fatalf("createMoment: %v", err)
	}
	if res != nil {
		t.Fatalf("createMoment: unexpected error result %+v", res)
	}
	if out.MomentID != "m1" {
		t.Fatalf("createMoment: got %+v", out)
	}
}

func TestErrorResultShape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)

	if _, _, err := s.createMoment(ctx, nil, createMomentIn{ID: "m1", Sequence: 1}); err != nil {
		t.Fatalf("createMoment: %v", err)
	}

	res, _, err := s.createMoment(ctx, nil, createMomentIn{ID: "x", Sequence: 1})
	if err != nil {
		t.Fatalf("createMoment duplicate: handler must not return a transport error, got %v", err)
	}
	if res == nil || !res.IsError {
		t.Fatalf("createMoment duplicate: expected IsError result, got %+v", res)
	}

	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("error content: got %T", res.Content[0])
	}
	var te toolError
	if err := json.Unmarshal([]byte(text.Text), &te); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if te.Kind != string(narrative.KindDuplicateSequence) {
		t.Fatalf("error kind: got %q, want DuplicateSequence", te.Kind)
	}
	if te.Message == "" {
		t.Fatal("error message should not be empty")
	}
}

func TestQueryStateHandlerRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)

	if _, _, err := s.createMoment(ctx, nil, createMomentIn{ID: "m1", Sequence: 1}); err != nil {
		t.Fatalf("createMoment: %v", err)
	}
	_, created, err := s.createTake(ctx, nil, createTakeIn{})
	if err != nil {
		t.Fatalf("createTake: %v", err)
	}
	if _, _, err := s.registerCharacter(ctx, nil, registerCharacterIn{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("registerCharacter: %v", err)
	}
	if _, _, err := s.registerCharacter(ctx, nil, registerCharacterIn{ID: "b", Name: "B"}); err != nil {
		t.Fatalf("registerCharacter: %v", err)
	}

	res, dlg, err := s.dialogue(ctx, nil, dialogueIn{
		Speaker: "a", Content: "Hello", MomentID: "m1", TakeID: created.TakeID, Listeners: []string{"b"},
	})
	if err != nil || res != nil {
		t.Fatalf("dialogue: res=%+v err=%v", res, err)
	}
	if dlg.SpeakerMemoryID == 0 || len(dlg.ListenerMemoryIDs) != 1 {
		t.Fatalf("dialogue out: %+v", dlg)
	}

	res, state, err := s.queryState(ctx, nil, queryStateIn{CharacterID: "b", MomentID: "m1", TakeID: created.TakeID})
	if err != nil || res != nil {
		t.Fatalf("queryState: res=%+v err=%v", res, err)
	}
	if len(state.Memories) != 1 || state.Memories[0].ChunkType != string(narrative.ChunkHeard) {
		t.Fatalf("queryState memories: %+v", state.Memories)
	}
	if state.Facts == nil || state.Corpus == nil {
		t.Fatal("queryState: facts and corpus must be non-nil arrays for JSON clients")
	}
}

func TestRegisterCoversEveryTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	srv := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	s.Register(srv)

	if len(toolNames) != 17 {
		t.Fatalf("tool registry: got %d tools, want 17", len(toolNames))
	}
}
