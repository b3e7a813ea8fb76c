package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/ingester/models"
)

func main() {
	apiURL := os.Getenv("INGESTER_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("INGESTER_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "INGESTER_API_KEY is required")
		os.Exit(1)
	}

	if err := server.ServeStdio(newServer(apiURL, apiKey)); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(apiURL, apiKey string) *server.MCPServer {
	s := server.NewMCPServer(
		"ingester",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	ingestURLTool := mcp.NewTool("ingest_url",
		mcp.WithDescription("Load a web page in a headless browser, run the matching scraper and store the bibliographic items it describes. Returns the created items."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to ingest"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Deadline in seconds for the whole ingestion (server default when omitted)"),
		),
		mcp.WithNumber("max_age",
			mcp.Description("Accept a cached result younger than this many milliseconds"),
		),
	)
	s.AddTool(ingestURLTool, handleIngestURL(apiURL, apiKey))

	listScrapersTool := mcp.NewTool("list_scrapers",
		mcp.WithDescription("List the registered scrapers in the order they are tried."),
	)
	s.AddTool(listScrapersTool, handleListScrapers(apiURL, apiKey))

	getItemTool := mcp.NewTool("get_item",
		mcp.WithDescription("Fetch one stored item by id."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The item id returned by ingest_url"),
		),
	)
	s.AddTool(getItemTool, handleGetItem(apiURL, apiKey))

	return s
}

func handleIngestURL(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := models.IngestRequest{
			URL:     target,
			Timeout: int(request.GetFloat("timeout", 0)),
			MaxAge:  int64(request.GetFloat("max_age", 0)),
		}

		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/v1/ingest", apiKey, reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.IngestResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText("ingest failed", resp.Error)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Scraper: %s\nSession: %s\nItems: %d\n", resp.Scraper, resp.SessionID, len(resp.Items))
		if resp.CacheStatus != "" {
			fmt.Fprintf(&b, "Cache: %s\n", resp.CacheStatus)
		}
		for _, it := range resp.Items {
			b.WriteString("\n")
			writeItem(&b, &it)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleListScrapers(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/v1/scrapers", apiKey, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.ScrapersResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText("listing scrapers failed", resp.Error)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d scrapers\n", len(resp.Scrapers))
		for i, sc := range resp.Scrapers {
			fmt.Fprintf(&b, "%d. %s (%s)", i+1, sc.Label, sc.ID)
			if sc.URLPattern != "" {
				fmt.Fprintf(&b, " pattern=%s", sc.URLPattern)
			}
			if sc.HasDetect {
				b.WriteString(" detect")
			}
			b.WriteString("\n")
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleGetItem(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		respBody, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/v1/items/"+url.PathEscape(id), apiKey, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.ItemResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success || resp.Item == nil {
			return mcp.NewToolResultError(errorText("item lookup failed", resp.Error)), nil
		}

		var b strings.Builder
		writeItem(&b, resp.Item)
		if resp.Item.Snapshot != "" {
			b.WriteString("\n---\n")
			b.WriteString(resp.Item.Snapshot)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

// apiDo sends a request to the ingester API and returns the response body.
// A nil payload sends no body.
func apiDo(ctx context.Context, client *http.Client, method, target, apiKey string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func errorText(fallback string, detail *models.ErrorDetail) string {
	if detail == nil {
		return fallback
	}
	if detail.Scraper != "" {
		return fmt.Sprintf("[%s] %s (scraper %s)", detail.Code, detail.Message, detail.Scraper)
	}
	return fmt.Sprintf("[%s] %s", detail.Code, detail.Message)
}

func writeItem(b *strings.Builder, it *models.Item) {
	fmt.Fprintf(b, "Item %s\n", it.ID)
	for _, k := range sortedKeys(it.Fields) {
		fmt.Fprintf(b, "  %s: %s\n", k, it.Fields[k])
	}
	for i, c := range it.Creators {
		fmt.Fprintf(b, "  creator[%d]: %s %s\n", i, c.FirstName, c.LastName)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
