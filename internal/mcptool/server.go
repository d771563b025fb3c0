// Package mcptool exposes the narrative engine's operations as MCP tools.
//
// Each engine operation from the core API maps to exactly one named tool
// taking a JSON object of its parameters. Failures are reported as an
// error object {kind, message} using the engine's error taxonomy; the
// adapter performs no retries and adds no policy of its own.
// Authentication and transport concerns stay out of the engine — they end
// here.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phantomstate/phantomstate/internal/observe"
	"github.com/phantomstate/phantomstate/pkg/narrative"
	"github.com/phantomstate/phantomstate/pkg/narrative/engine"
)

// serverName and serverVersion identify this MCP server implementation.
const (
	serverName    = "phantom_state"
	serverVersion = "0.1.0"
)

// Server adapts one engine instance to the Model Context Protocol. The
// engine is treated strictly as a library: any singleton behavior lives
// in the process hosting this adapter, never in the engine.
type Server struct {
	engine  *engine.Engine
	metrics *observe.Metrics
	log     *slog.Logger
}

// New constructs a Server around eng. metrics may be nil to disable
// recording; logger nil means slog.Default().
func New(eng *engine.Engine, metrics *observe.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, metrics: metrics, log: logger}
}

// Run serves the tool set over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	s.Register(srv)
	s.log.Info("mcp server running", "name", serverName, "tools", len(toolNames))
	err := srv.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// toolNames lists every registered tool, in registration order.
var toolNames = []string{
	"create_moment",
	"create_take",
	"branch",
	"list_takes",
	"set_take_status",
	"get_ancestry",
	"register_character",
	"get_character",
	"log_fact",
	"log_knowledge",
	"embed_memory",
	"dialogue",
	"load_corpus_chunk",
	"load_document",
	"delete_corpus_version",
	"query_state",
	"query_corpus",
}

// Register adds every engine operation to srv as a named tool.
func (s *Server) Register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_moment",
		Description: "Create a temporal marker for ordering events",
	}, s.createMoment)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_take",
		Description: "Create a new take (branch) in the narrative",
	}, s.createTake)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "branch",
		Description: "Create a take branching from a parent at a moment",
	}, s.branch)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_takes",
		Description: "List takes, optionally filtered by status or branch point",
	}, s.listTakes)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "set_take_status",
		Description: "Update take status (active/archived/trunk)",
	}, s.setTakeStatus)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_ancestry",
		Description: "Get the root-first lineage of take IDs for a take",
	}, s.getAncestry)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "register_character",
		Description: "Register a character and provision their private memory store",
	}, s.registerCharacter)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_character",
		Description: "Get character data",
	}, s.getCharacter)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "log_fact",
		Description: "Record a fact in the world",
	}, s.logFact)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "log_knowledge",
		Description: "Record that a character learned a fact",
	}, s.logKnowledge)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "embed_memory",
		Description: "Store experiential memory for a character",
	}, s.embedMemory)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "dialogue",
		Description: "Record a dialogue exchange (speaker gets 'said', listeners get 'heard')",
	}, s.dialogue)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "load_corpus_chunk",
		Description: "Store one chunk of shared reference text in the corpus",
	}, s.loadCorpusChunk)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "load_document",
		Description: "Read, split, embed, and store a document in the corpus",
	}, s.loadDocument)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_corpus_version",
		Description: "Delete every corpus chunk matching a source and version",
	}, s.deleteCorpusVersion)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "query_state",
		Description: "Get everything a character knows/has experienced up to a moment",
	}, s.queryState)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "query_corpus",
		Description: "Search the shared corpus (ungated)",
	}, s.queryCorpus)
}

// toolError is the wire form of an engine failure.
type toolError struct {
	Kind    string `json:"kind" jsonschema:"stable error kind"`
	Message string `json:"message" jsonschema:"human-readable message including the offending id or value"`
}

// errorResult converts an engine error into an IsError tool result
// carrying the {kind, message} object.
func errorResult(err error) *mcp.CallToolResult {
	te := toolError{Kind: string(narrative.KindOf(err)), Message: err.Error()}
	var e *narrative.Error
	if errors.As(err, &e) && e.Message != "" {
		te.Message = e.Message
	}
	b, _ := json.Marshal(te)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}

// record emits operation metrics and an error log line when needed.
func (s *Server) record(ctx context.Context, operation string, start time.Time, err error) {
	var kind string
	if err != nil {
		kind = string(narrative.KindOf(err))
		s.log.Warn("operation failed", "operation", operation, "kind", kind, "err", err)
	}
	s.metrics.RecordOperation(ctx, operation, start, kind)
}
