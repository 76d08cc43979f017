// Command test-tools drives a relgraph MCP server end to end: it lists the
// tools, maps the source, runs a migration and checks the resulting counts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	envFile := flag.String("env", ".env", "environment file passed to the server")
	configFile := flag.String("config", "", "relgraph config file")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	// A missing env file is fine; the server falls back to its defaults.
	_ = godotenv.Load(*envFile)

	fmt.Println("Testing relgraph MCP server")
	fmt.Println("===========================")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	serverPath := findServerBinary()
	if serverPath == "" {
		log.Fatal("relgraph binary not found. Run: go build -o relgraph .")
	}
	fmt.Println("✅ Test 1: relgraph binary found")

	args := []string{"mcp"}
	if *configFile != "" {
		args = append([]string{"--config", *configFile}, args...)
	}
	cmd := exec.Command(serverPath, args...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "relgraph-test-tools",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MCP server: %v", err)
	}
	defer session.Close()
	fmt.Println("✅ Test 2: Connected to MCP server")

	fmt.Println("\n✓ Test 3: Listing available tools")
	listResult, err := session.ListTools(ctx, nil)
	if err != nil {
		log.Fatalf("❌ Failed to list tools: %v", err)
	}
	fmt.Printf("  Found %d tools:\n", len(listResult.Tools))
	for _, tool := range listResult.Tools {
		fmt.Printf("  - %s: %s\n", tool.Name, tool.Description)
	}

	fmt.Println("\n✓ Test 4: describe_graph_model")
	var model struct {
		Vertices []json.RawMessage `json:"vertices"`
		Edges    []json.RawMessage `json:"edges"`
	}
	if call(ctx, session, "describe_graph_model", nil, &model) {
		fmt.Printf("  ✅ %d vertex types, %d edge types\n", len(model.Vertices), len(model.Edges))
	}

	fmt.Println("\n✓ Test 5: run_migration (reset)")
	var report struct {
		Step       string `json:"step"`
		DurationMS int64  `json:"duration_ms"`
		Error      string `json:"error"`
		Warnings   []string
	}
	if call(ctx, session, "run_migration", map[string]any{"reset": true}, &report) {
		if report.Error != "" {
			fmt.Printf("  ❌ Migration stopped at %s: %s\n", report.Step, report.Error)
		} else {
			fmt.Printf("  ✅ Migration reached %s in %dms with %d warnings\n", report.Step, report.DurationMS, len(report.Warnings))
		}
	}

	fmt.Println("\n✓ Test 6: count_classes")
	var counts struct {
		Counts map[string]int64 `json:"counts"`
	}
	if call(ctx, session, "count_classes", nil, &counts) {
		for class, n := range counts.Counts {
			fmt.Printf("    %-30s %d\n", class, n)
		}
	}

	fmt.Println("\n✓ Test 7: query_graph")
	var rows struct {
		Rows []map[string]any `json:"rows"`
	}
	if call(ctx, session, "query_graph", map[string]any{"cypher": "MATCH (n) RETURN count(n) AS n"}, &rows) {
		fmt.Printf("  ✅ %v\n", rows.Rows)
	} else {
		fmt.Println("  ⚠️  query_graph needs a Neo4j destination")
	}

	fmt.Println("\n===========================")
	fmt.Println("✅ All MCP tool tests complete!")
	fmt.Println("\n💡 To test interactively, run: go run ./cmd/mcp-client ./relgraph mcp")
}

// call invokes a tool and decodes its structured result into out. It reports
// failures itself and returns false.
func call(ctx context.Context, session *mcp.ClientSession, name string, args map[string]any, out any) bool {
	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		fmt.Printf("  ❌ %s failed: %v\n", name, err)
		return false
	}
	if res.IsError {
		for _, c := range res.Content {
			if t, ok := c.(*mcp.TextContent); ok {
				fmt.Printf("  ❌ %s: %s\n", name, t.Text)
			}
		}
		return false
	}
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		fmt.Printf("  ❌ %s: %v\n", name, err)
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		fmt.Printf("  ❌ %s: decode result: %v\n", name, err)
		return false
	}
	return true
}

func findServerBinary() string {
	candidates := []string{
		"./relgraph",
		"../../relgraph",
		"../../../relgraph",
	}
	for _, p := range candidates {
		if abs, err := filepath.Abs(p); err == nil {
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
	}
	return ""
}
