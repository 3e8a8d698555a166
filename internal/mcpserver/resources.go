package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragforge/ragserver/internal/catalog"
)

// indexStatusURI names the catalog snapshot resource.
const indexStatusURI = "catalog://index-status"

// indexStatusDocument is the resource payload: the full catalog plus
// per-state counts, the same data the /api/documents/index-status
// endpoint serves.
type indexStatusDocument struct {
	Documents []catalog.IndexStatus `json:"documents"`
	Counts    map[string]int        `json:"counts"`
	Total     int                   `json:"total"`
}

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "index-status",
			URI:         indexStatusURI,
			Description: "Indexing state of every known document: path, content hash, lifecycle state, timestamps and failure messages.",
			MIMEType:    "application/json",
		},
		s.readIndexStatus,
	)
}

// readIndexStatus serves the catalog snapshot.
func (s *Server) readIndexStatus(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	recs, err := s.cat.List(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	if recs == nil {
		recs = []catalog.IndexStatus{}
	}

	doc := indexStatusDocument{
		Documents: recs,
		Counts:    make(map[string]int, 4),
		Total:     len(recs),
	}
	for _, rec := range recs {
		doc.Counts[string(rec.Status)]++
	}

	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      indexStatusURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
