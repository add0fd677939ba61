package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/fault"
	"github.com/hazyhaar/audasnap/session"
)

// Tools exposes extraction and the archive as MCP tools.
type Tools struct {
	Extractor Extractor
	Archive   *archive.Archive
}

// RegisterMCP registers the audasnap tools on an MCP server.
func (t *Tools) RegisterMCP(srv *mcp.Server) {
	t.registerExtractTool(srv)
	t.registerHistoryTool(srv)
	t.registerRecordTool(srv)
}

type endpoint func(ctx context.Context, req any) (any, error)

// registerTool adds a tool whose arguments are decoded by decode and whose
// response is returned as JSON text. Failures become tool errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := ep(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(fault.Message(err)))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeInto[T any](req *mcp.CallToolRequest) (any, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// --- extract ---

type extractReq struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClaimNumber string `json:"claim_number"`
	VIN         string `json:"vin"`
}

type extractResp struct {
	RunID    string `json:"run_id,omitempty"`
	Folder   string `json:"folder"`
	VIN      string `json:"vin"`
	Zones    int    `json:"zones"`
	Degraded int    `json:"degraded"`
	JSONPath string `json:"json_path"`
	Seconds  int64  `json:"duration_seconds"`
}

func (t *Tools) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "audasnap_extract",
		Description: "Log into the claims application, open a claim by claim number or VIN, capture its damage zones and archive the result.",
		InputSchema: inputSchema(map[string]any{
			"username":     map[string]any{"type": "string", "description": "Vendor account username"},
			"password":     map[string]any{"type": "string", "description": "Vendor account password"},
			"claim_number": map[string]any{"type": "string", "description": "Claim number to search first"},
			"vin":          map[string]any{"type": "string", "description": "VIN, searched when the claim number finds nothing"},
		}, []string{"username", "password"}),
	}

	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		res, err := t.Extractor.Extract(ctx, Request{
			Credentials: session.Credentials{Username: r.Username, Password: r.Password},
			ClaimNumber: r.ClaimNumber,
			VIN:         r.VIN,
		})
		if err != nil {
			return nil, err
		}
		return extractResp{
			RunID:    res.RunID,
			Folder:   res.Record.Folder,
			VIN:      res.Record.VIN,
			Zones:    len(res.Record.Zones),
			Degraded: res.Record.DegradedCount(),
			JSONPath: res.Saved.JSONURL,
			Seconds:  int64(res.Duration.Seconds()),
		}, nil
	}
	registerTool(srv, tool, ep, decodeInto[extractReq])
}

// --- history ---

type historyEntry struct {
	Folder      string `json:"folder"`
	VIN         string `json:"vin"`
	ClaimNumber string `json:"claim_number,omitempty"`
	Created     string `json:"created_at"`
	Zones       int    `json:"zones"`
}

func (t *Tools) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "audasnap_history",
		Description: "List archived claims, most recent first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	ep := func(_ context.Context, _ any) (any, error) {
		entries, err := t.Archive.List()
		if err != nil {
			return nil, err
		}
		out := make([]historyEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, historyEntry{
				Folder:      e.Folder,
				VIN:         e.VIN,
				ClaimNumber: e.ClaimNumber,
				Created:     e.Created.Format(time.RFC3339),
				Zones:       e.Zones,
			})
		}
		return map[string]any{"records": out}, nil
	}
	registerTool(srv, tool, ep, decodeInto[struct{}])
}

// --- record ---

type recordReq struct {
	Folder string `json:"folder"`
}

func (t *Tools) registerRecordTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "audasnap_record",
		Description: "Return the latest archived record of a folder (VIN, claim number or timestamp key).",
		InputSchema: inputSchema(map[string]any{
			"folder": map[string]any{"type": "string", "description": "Archive folder key"},
		}, []string{"folder"}),
	}

	ep := func(_ context.Context, req any) (any, error) {
		r := req.(*recordReq)
		return t.Archive.Latest(r.Folder)
	}
	registerTool(srv, tool, ep, decodeInto[recordReq])
}
