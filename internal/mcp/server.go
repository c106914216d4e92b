// Package mcp implements the Model Context Protocol server for the discovery swarm.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/discovery-swarm/internal/geo"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
	"github.com/ajitpratap0/discovery-swarm/internal/swarm"
)

const (
	// defaultListLimit is the default number of businesses returned by list_businesses.
	defaultListLimit = 25

	// maxListLimit caps list_businesses so responses stay small enough for a model context.
	maxListLimit = 200
)

// Businesses is the read side of the merge store.
type Businesses interface {
	Get(ctx context.Context, id string) (*models.DiscoveredBusiness, error)
	List(ctx context.Context, filter merge.Filter) ([]*models.DiscoveredBusiness, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
}

// Runs starts and inspects discovery runs.
type Runs interface {
	Start(ctx context.Context, rc swarm.RunConfig) (*swarm.Run, error)
	Current() *swarm.Run
	Stop() bool
}

// Server wraps an MCPServer with discovery swarm dependencies.
type Server struct {
	mcp        *mcpserver.MCPServer
	businesses Businesses
	runs       Runs
	defaultRun swarm.RunConfig
	logger     *slog.Logger
}

// NewServer creates a new MCP server. If businesses or runs are nil, the
// corresponding tool calls return an error response instead of panicking.
func NewServer(businesses Businesses, runs Runs, defaultRun swarm.RunConfig, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		businesses: businesses,
		runs:       runs,
		defaultRun: defaultRun,
		logger:     logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"discovery-swarm",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildStatsTool(), s.handleStats)
	mcpSrv.AddTool(buildListTool(), s.handleList)
	mcpSrv.AddTool(buildGetTool(), s.handleGet)
	mcpSrv.AddTool(buildStartRunTool(), s.handleStartRun)
	mcpSrv.AddTool(buildRunStatusTool(), s.handleRunStatus)
	mcpSrv.AddTool(buildStopRunTool(), s.handleStopRun)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleStats is the exported handler for the "discovery_stats" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStats(ctx, req)
}

// HandleList is the exported handler for the "list_businesses" tool.
func (s *Server) HandleList(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleList(ctx, req)
}

// HandleGet is the exported handler for the "get_business" tool.
func (s *Server) HandleGet(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleGet(ctx, req)
}

// HandleStartRun is the exported handler for the "start_run" tool.
func (s *Server) HandleStartRun(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStartRun(ctx, req)
}

// HandleRunStatus is the exported handler for the "run_status" tool.
func (s *Server) HandleRunStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRunStatus(ctx, req)
}

// HandleStopRun is the exported handler for the "stop_run" tool.
func (s *Server) HandleStopRun(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStopRun(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// splitList parses a comma separated argument.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- tool definitions ---

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("discovery_stats",
		mcpgo.WithDescription("Summary of all discovered businesses by entity type, confidence band and province."),
	)
}

func buildListTool() mcpgo.Tool {
	return mcpgo.NewTool("list_businesses",
		mcpgo.WithDescription("List discovered businesses, optionally filtered."),
		mcpgo.WithString("type",
			mcpgo.Description("Entity type: indigenous_owned, compliance_ready, or potential_partner"),
		),
		mcpgo.WithString("province",
			mcpgo.Description("Two-letter province or territory code, e.g. ON"),
		),
		mcpgo.WithString("source",
			mcpgo.Description("Only businesses seen by this source: web, gov_registry, social, news, industry_assoc"),
		),
		mcpgo.WithNumber("min_confidence",
			mcpgo.Description("Minimum confidence 0-100 (default: 0)"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of results (default: 25, max: 200)"),
		),
	)
}

func buildGetTool() mcpgo.Tool {
	return mcpgo.NewTool("get_business",
		mcpgo.WithDescription("Get one discovered business with its full provenance."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The business id (its identity key)"),
		),
	)
}

func buildStartRunTool() mcpgo.Tool {
	return mcpgo.NewTool("start_run",
		mcpgo.WithDescription("Start a discovery run. Omitted arguments fall back to the configured defaults."),
		mcpgo.WithString("industries",
			mcpgo.Description("Comma separated industries to search"),
		),
		mcpgo.WithString("locations",
			mcpgo.Description("Comma separated locations to search"),
		),
		mcpgo.WithString("indicator_terms",
			mcpgo.Description("Comma separated indicator terms added to each query"),
		),
		mcpgo.WithNumber("target_count",
			mcpgo.Description("Stop after this many new businesses (default: configured value, 0 = no target)"),
		),
	)
}

func buildRunStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("run_status",
		mcpgo.WithDescription("Report of the active run, or of the last finished one."),
	)
}

func buildStopRunTool() mcpgo.Tool {
	return mcpgo.NewTool("stop_run",
		mcpgo.WithDescription("Stop dispatching new queries for the active run. In-flight queries finish."),
	)
}

// --- tool handlers ---

func (s *Server) handleStats(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.businesses == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}
	stats, err := s.businesses.Statistics(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("stats failed: %s", err.Error()), nil
	}
	return toolResultJSON(stats)
}

func (s *Server) handleList(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.businesses == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	filter := merge.Filter{
		EntityType: models.EntityType(req.GetString("type", "")),
		Province:   strings.ToUpper(strings.TrimSpace(req.GetString("province", ""))),
		Source:     models.SourceType(req.GetString("source", "")),
	}
	if filter.EntityType != "" && !filter.EntityType.IsValid() {
		return mcpgo.NewToolResultErrorf("invalid type %q: must be one of indigenous_owned, compliance_ready, potential_partner", filter.EntityType), nil
	}
	if filter.Source != "" && !filter.Source.IsValid() {
		return mcpgo.NewToolResultErrorf("invalid source %q", filter.Source), nil
	}
	if filter.Province != "" && !geo.IsCode(filter.Province) {
		return mcpgo.NewToolResultErrorf("invalid province %q: must be a two-letter code such as ON", filter.Province), nil
	}
	filter.MinConfidence = req.GetInt("min_confidence", 0)
	if filter.MinConfidence < 0 || filter.MinConfidence > 100 {
		return mcpgo.NewToolResultError("min_confidence must be between 0 and 100"), nil
	}
	filter.Limit = req.GetInt("limit", defaultListLimit)
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	list, err := s.businesses.List(ctx, filter)
	if err != nil {
		return mcpgo.NewToolResultErrorf("list failed: %s", err.Error()), nil
	}
	if list == nil {
		list = []*models.DiscoveredBusiness{}
	}
	return toolResultJSON(map[string]any{
		"businesses": list,
		"count":      len(list),
	})
}

func (s *Server) handleGet(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.businesses == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}
	b, err := s.businesses.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcpgo.NewToolResultErrorf("business %q not found", id), nil
	}
	if err != nil {
		return mcpgo.NewToolResultErrorf("get failed: %s", err.Error()), nil
	}
	return toolResultJSON(b)
}

func (s *Server) handleStartRun(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.runs == nil {
		return mcpgo.NewToolResultError("runs are unavailable"), nil
	}

	rc := s.defaultRun
	if v := splitList(req.GetString("industries", "")); len(v) > 0 {
		rc.Industries = v
	}
	if v := splitList(req.GetString("locations", "")); len(v) > 0 {
		rc.Locations = v
	}
	if v := splitList(req.GetString("indicator_terms", "")); len(v) > 0 {
		rc.IndicatorTerms = v
	}
	rc.TargetCount = req.GetInt("target_count", rc.TargetCount)
	if rc.TargetCount < 0 {
		return mcpgo.NewToolResultError("target_count must be >= 0"), nil
	}

	run, err := s.runs.Start(context.WithoutCancel(ctx), rc)
	if err != nil {
		return mcpgo.NewToolResultErrorf("start failed: %s", err.Error()), nil
	}
	s.logger.Info("mcp: run started", "run_id", run.ID())
	return toolResultJSON(run.Report())
}

func (s *Server) handleRunStatus(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.runs == nil {
		return mcpgo.NewToolResultError("runs are unavailable"), nil
	}
	run := s.runs.Current()
	if run == nil {
		return mcpgo.NewToolResultError("no run has been started"), nil
	}
	return toolResultJSON(run.Report())
}

func (s *Server) handleStopRun(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.runs == nil {
		return mcpgo.NewToolResultError("runs are unavailable"), nil
	}
	if !s.runs.Stop() {
		return mcpgo.NewToolResultError("no active run"), nil
	}
	return toolResultJSON(map[string]any{"stopping": true})
}
