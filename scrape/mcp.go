package scrape

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mangafetch/kit"
)

// RegisterMCP registers the scraper tools on an MCP server.
func (s *Scraper) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mangafetch_scrape",
		Description: "Fetch a manga listing, manga detail, chapter list or chapter pages from the configured sources, with fallback across sources.",
		InputSchema: kit.InputSchema(map[string]any{
			"target":       map[string]any{"type": "string", "description": "Logical target, e.g. latest, search, manga, chapters, pages"},
			"params":       map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}, "description": "Endpoint parameters, e.g. {\"id\": \"one-piece\"}"},
			"source":       map[string]any{"type": "string", "description": "Preferred source ID"},
			"no_cache":     map[string]any{"type": "boolean", "description": "Bypass the result cache"},
			"non_blocking": map[string]any{"type": "boolean", "description": "Skip rate-limited sources instead of waiting"},
		}, "target"),
	}, s.scrapeEndpoint(), kit.DecodeArgs[ScrapeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mangafetch_source_health",
		Description: "Circuit breaker state and failure counts for every source.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, s.healthEndpoint(), kit.DecodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mangafetch_metrics",
		Description: "Request, cache, retry and fallback counters.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, s.metricsEndpoint(), kit.DecodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mangafetch_reset_source",
		Description: "Close the circuit breaker of one source.",
		InputSchema: kit.InputSchema(map[string]any{
			"source": map[string]any{"type": "string", "description": "Source ID"},
		}, "source"),
	}, s.resetEndpoint(), kit.DecodeArgs[sourceRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "mangafetch_abort_all",
		Description: "Cancel every in-flight scrape call.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, s.abortEndpoint(), kit.DecodeArgs[struct{}])
}
