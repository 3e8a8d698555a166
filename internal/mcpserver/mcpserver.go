package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragforge/ragserver/internal/catalog"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
	"github.com/ragforge/ragserver/pkg/version"
)

// maxTopK caps how much context a tool call can request.
const maxTopK = 50

// Facade is the slice of the RAG service the tools drive. *rag.Service
// satisfies it.
type Facade interface {
	ProcessDocument(ctx context.Context, path, outputDir, parseMethod string) rag.ProcessResult
	Query(ctx context.Context, query, mode string, opts rag.QueryOptions) (string, error)
	Status() rag.ServiceStatus
}

// Catalog is the slice of the status catalog the tools and the
// index-status resource read. *catalog.Store satisfies it.
type Catalog interface {
	List(ctx context.Context) ([]catalog.IndexStatus, error)
	CountByStatus(ctx context.Context) (map[catalog.Status]int, error)
}

// Server bridges MCP clients with the retrieval service.
type Server struct {
	mcp *mcp.Server
	rag Facade
	cat Catalog
	log *slog.Logger
}

// queryInput is the rag_query tool schema.
type queryInput struct {
	Query string `json:"query" jsonschema:"the question to answer from the indexed documents"`
	Mode  string `json:"mode,omitempty" jsonschema:"retrieval mode: naive, local, global or hybrid (default hybrid)"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum context chunks to retrieve, capped at 50"`
}

// queryOutput is the rag_query tool result.
type queryOutput struct {
	Query    string `json:"query" jsonschema:"the question as asked"`
	Response string `json:"response" jsonschema:"the generated answer"`
	Mode     string `json:"mode" jsonschema:"the retrieval mode used"`
}

// processInput is the rag_process_document tool schema.
type processInput struct {
	Path        string `json:"path" jsonschema:"document path, absolute or relative to the upload directory"`
	ParseMethod string `json:"parse_method,omitempty" jsonschema:"parser selection hint, e.g. auto or txt"`
}

// processOutput is the rag_process_document tool result.
type processOutput struct {
	Status    string `json:"status" jsonschema:"success or error"`
	FilePath  string `json:"file_path" jsonschema:"the processed document path"`
	OutputDir string `json:"output_dir,omitempty" jsonschema:"directory holding parse by-products"`
}

// statusInput is the rag_status tool schema. The tool takes no
// arguments.
type statusInput struct{}

// statusOutput is the rag_status tool result.
type statusOutput struct {
	Initialized    bool               `json:"initialized" jsonschema:"whether the retrieval engine is built"`
	WorkingDir     string             `json:"working_dir" jsonschema:"the server working directory"`
	Providers      []rag.ProviderInfo `json:"providers" jsonschema:"configured model bindings"`
	Counts         map[string]int     `json:"counts" jsonschema:"catalog record counts by lifecycle state"`
	TotalDocuments int                `json:"total_documents" jsonschema:"total catalog records"`
}

// NewServer wires the tool surface. Serve runs it over stdio.
func NewServer(facade Facade, cat Catalog, log *slog.Logger) (*Server, error) {
	if facade == nil {
		return nil, errors.New("rag facade is required")
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		rag: facade,
		cat: cat,
		log: log,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ragserver",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: "Answer a question from the indexed documents. Retrieves relevant context with the requested mode (naive, local, global or hybrid) and generates an answer grounded in it.",
	}, s.ragQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_process_document",
		Description: "Parse and index one document so later queries can draw on it. Accepts a path inside the upload directory or an absolute path.",
	}, s.ragProcessDocument)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_status",
		Description: "Report whether the retrieval engine is ready, which model providers are bound, and how many documents sit in each indexing state. Use before querying to verify the index is populated.",
	}, s.ragStatus)

	s.log.Debug("mcp_tools_registered", slog.Int("count", 3))
}

// ragQuery handles the rag_query tool.
func (s *Server) ragQuery(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (
	*mcp.CallToolResult,
	queryOutput,
	error,
) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, queryOutput{}, InvalidParams("query is required and must be non-empty")
	}

	mode := in.Mode
	if mode == "" {
		mode = retriever.ModeHybrid
	}
	if !retriever.ValidMode(mode) {
		return nil, queryOutput{}, InvalidParams("unknown mode; use one of naive, local, global, hybrid")
	}

	topK := in.TopK
	if topK < 0 {
		return nil, queryOutput{}, InvalidParams("top_k must not be negative")
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	s.log.Info("mcp_query",
		slog.String("mode", mode),
		slog.Int("top_k", topK))

	answer, err := s.rag.Query(ctx, query, mode, rag.QueryOptions{TopK: topK})
	if err != nil {
		s.log.Error("mcp_query_failed", slog.String("error", err.Error()))
		return nil, queryOutput{}, MapError(err)
	}

	return nil, queryOutput{Query: query, Response: answer, Mode: mode}, nil
}

// ragProcessDocument handles the rag_process_document tool. A
// processing failure is a tool error, not an output variant: agents
// retry on errors but tend to take outputs at face value.
func (s *Server) ragProcessDocument(ctx context.Context, _ *mcp.CallToolRequest, in processInput) (
	*mcp.CallToolResult,
	processOutput,
	error,
) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return nil, processOutput{}, InvalidParams("path is required and must be non-empty")
	}

	s.log.Info("mcp_process_document",
		slog.String("path", path),
		slog.String("parse_method", in.ParseMethod))

	res := s.rag.ProcessDocument(ctx, path, "", in.ParseMethod)
	if res.Status != rag.StatusSuccess {
		s.log.Error("mcp_process_failed",
			slog.String("path", path),
			slog.String("error", res.Error))
		return nil, processOutput{}, &Error{Code: ErrCodeProcessingFailed, Message: res.Error}
	}

	return nil, processOutput{
		Status:    res.Status,
		FilePath:  res.FilePath,
		OutputDir: res.OutputDir,
	}, nil
}

// ragStatus handles the rag_status tool.
func (s *Server) ragStatus(ctx context.Context, _ *mcp.CallToolRequest, _ statusInput) (
	*mcp.CallToolResult,
	statusOutput,
	error,
) {
	counts, err := s.cat.CountByStatus(ctx)
	if err != nil {
		return nil, statusOutput{}, MapError(err)
	}

	st := s.rag.Status()
	out := statusOutput{
		Initialized: st.Initialized,
		WorkingDir:  st.WorkingDir,
		Providers:   st.Providers,
		Counts:      make(map[string]int, 4),
	}
	for _, lifecycle := range []catalog.Status{
		catalog.StatusPending, catalog.StatusProcessing, catalog.StatusIndexed, catalog.StatusFailed,
	} {
		out.Counts[string(lifecycle)] = counts[lifecycle]
		out.TotalDocuments += counts[lifecycle]
	}
	return nil, out, nil
}

// Serve runs the stdio transport until the client disconnects or ctx
// is canceled. Cancellation is the normal shutdown path.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcp_serve", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("mcp_stopped", slog.String("error", err.Error()))
		return err
	}
	s.log.Info("mcp_stopped_gracefully")
	return nil
}
