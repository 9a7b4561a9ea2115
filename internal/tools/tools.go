package tools

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/tapaconv/internal/pipeline"
	"github.com/DeusData/tapaconv/internal/store"
)

// Version is reported to MCP clients.
var Version = "dev"

// Server wraps the MCP server with tool handlers.
type Server struct {
	mcp *mcp.Server
	// store is nil when run history is disabled.
	store      *store.Store
	configPath string
	// analyses caches analyze_kernel results by source and options fingerprint.
	analyses *lru.Cache[string, *pipeline.Result]
}

const analysisCacheSize = 256

// NewServer creates a new MCP server with all tools registered. s may be nil;
// configPath, when set, overrides the per-kernel .tapaconv.yaml lookup.
func NewServer(s *store.Store, configPath string) *Server {
	// only fails for a non-positive size
	cache, _ := lru.New[string, *pipeline.Result](analysisCacheSize)
	srv := &Server{
		analyses:   cache,
		store:      s,
		configPath: configPath,
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "tapaconv",
				Version: Version,
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "convert_kernel",
		Description: "Convert an HLS dataflow kernel (hls::stream channels, raw pointer ports) into the TAPA task dialect. Resolves channel directions across the task hierarchy, turns pointer ports into tapa::mmap handles (named by m_axi pragmas), declares local channels with their STREAM depths and emits the tapa::task() invocation list. Returns the converted source and any warnings.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Path of the kernel source file. Required unless source is given."
				},
				"source": {
					"type": "string",
					"description": "Kernel source text, used instead of reading path"
				},
				"top": {
					"type": "string",
					"description": "Top-level kernel function. Defaults to the single function with #pragma HLS DATAFLOW."
				},
				"output": {
					"type": "string",
					"description": "If set, the converted source is also written to this path (atomically)"
				}
			}
		}`),
	}, s.handleConvertKernel)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "analyze_kernel",
		Description: "Analyze an HLS kernel without rewriting it: lists functions with parameter kinds and resolved channel directions, the task invocations, STREAM channel declarations and m_axi interfaces.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "Path of the kernel source file. Required unless source is given."
				},
				"source": {
					"type": "string",
					"description": "Kernel source text, used instead of reading path"
				},
				"top": {
					"type": "string",
					"description": "Top-level kernel function (optional)"
				}
			}
		}`),
	}, s.handleAnalyzeKernel)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "list_runs",
		Description: "List recorded conversions, newest first, with status, failing stage, input/output hashes and propagation stats.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"input": {
					"type": "string",
					"description": "Only runs for this input path"
				},
				"limit": {
					"type": "integer",
					"description": "Max results (default 20, max 200)"
				},
				"channels": {
					"type": "boolean",
					"description": "Include the recorded channel directions of each run"
				}
			}
		}`),
	}, s.handleListRuns)
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument from parsed args.
func getBoolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		return false
	}
	return b
}
