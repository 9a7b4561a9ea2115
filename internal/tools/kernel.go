package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/tapaconv/internal/config"
	"github.com/DeusData/tapaconv/internal/pipeline"
	"github.com/DeusData/tapaconv/internal/store"
)

// kernelRequest reads the arguments shared by convert_kernel and analyze_kernel.
func kernelRequest(args map[string]any) (pipeline.Request, error) {
	req := pipeline.Request{
		Path:   getStringArg(args, "path"),
		Top:    getStringArg(args, "top"),
		Output: getStringArg(args, "output"),
	}
	if src := getStringArg(args, "source"); src != "" {
		req.Source = []byte(src)
	}
	if req.Path == "" && req.Source == nil {
		return req, fmt.Errorf("path or source is required")
	}
	return req, nil
}

func (s *Server) converter(input string) (*pipeline.Converter, error) {
	cfg, err := config.Load(s.configPath, input)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg.Options()), nil
}

func (s *Server) handleConvertKernel(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	kreq, err := kernelRequest(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	conv, err := s.converter(kreq.Path)
	if err != nil {
		return errResult(fmt.Sprintf("config: %v", err)), nil
	}

	started := time.Now()
	res, convErr := conv.Convert(ctx, kreq)
	s.record(kreq, started, res, convErr)
	if convErr != nil {
		return errResult(convErr.Error()), nil
	}

	return jsonResult(map[string]any{
		"top":         res.Top,
		"output":      res.Output,
		"written":     kreq.Output,
		"warnings":    res.Warnings,
		"stats":       res.Stats,
		"tasks":       len(res.Tasks),
		"channels":    res.Channels,
		"input_hash":  res.InputHash,
		"output_hash": res.OutputHash,
	}), nil
}

func (s *Server) handleAnalyzeKernel(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	kreq, err := kernelRequest(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	kreq.Output = ""
	conv, err := s.converter(kreq.Path)
	if err != nil {
		return errResult(fmt.Sprintf("config: %v", err)), nil
	}
	if kreq.Source == nil {
		data, err := os.ReadFile(kreq.Path)
		if err != nil {
			return errResult(fmt.Sprintf("%s: %v", pipeline.StageRead, err)), nil
		}
		kreq.Source = data
	}

	key := analysisKey(kreq, conv.Options())
	if res, ok := s.analyses.Get(key); ok {
		slog.Debug("analyze.cache.hit", "input", kreq.Path, "top", res.Top)
		return jsonResult(res), nil
	}
	res, err := conv.Analyze(ctx, kreq)
	if err != nil {
		return errResult(err.Error()), nil
	}
	s.analyses.Add(key, res)
	return jsonResult(res), nil
}

// analysisKey identifies an analysis by source text, requested top, path
// and every option that changes the result.
func analysisKey(req pipeline.Request, opts pipeline.Options) string {
	return pipeline.Fingerprint(req.Source) + "|" + req.Path + "|" + req.Top + "|" + fmt.Sprintf("%v", opts)
}

func (s *Server) handleListRuns(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return errResult("run history is disabled"), nil
	}
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	limit := getIntArg(args, "limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	runs, err := s.store.ListRuns(getStringArg(args, "input"), limit)
	if err != nil {
		return errResult(fmt.Sprintf("list runs: %v", err)), nil
	}

	type runInfo struct {
		*store.Run
		Channels []store.ChannelRecord `json:"channels,omitempty"`
	}
	withChannels := getBoolArg(args, "channels")
	result := make([]runInfo, 0, len(runs))
	for _, r := range runs {
		info := runInfo{Run: r}
		if withChannels {
			info.Channels, _ = s.store.RunChannels(r.ID)
		}
		result = append(result, info)
	}
	return jsonResult(result), nil
}

// record stores the run in the history database, if one is open.
func (s *Server) record(req pipeline.Request, started time.Time, res *pipeline.Result, err error) {
	if s.store == nil {
		return
	}
	input := req.Path
	if input == "" {
		input = "<source>"
	}
	run, channels := store.RunFromResult(input, started, res, err)
	if _, recErr := s.store.RecordRun(run, channels); recErr != nil {
		slog.Warn("history.record.err", "input", input, "err", recErr)
	}
}
