package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mcp-client <server-command> [<args>]")
		fmt.Fprintln(os.Stderr, "Example: mcp-client ./relgraph mcp --config relgraph.yaml")
		os.Exit(2)
	}

	ctx := context.Background()

	// Start the server as a subprocess
	cmd := exec.Command(args[0], args[1:]...)
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "relgraph-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer session.Close()

	fmt.Println("Connected to relgraph MCP server")
	fmt.Println("Available commands:")
	fmt.Println("  /tools           - List available tools")
	fmt.Println("  /describe        - Show the graph model of the source")
	fmt.Println("  /migrate [reset] - Run a migration, optionally resetting the graph first")
	fmt.Println("  /last            - Show the last migration report")
	fmt.Println("  /counts          - Count vertices and edges per class")
	fmt.Println("  /graph [n] <cypher> - Execute a read-only Cypher query, at most n rows")
	fmt.Println("  /exit            - Exit the client")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case input == "/exit":
			fmt.Println("Goodbye!")
			return

		case input == "/tools":
			listTools(ctx, session)

		case input == "/describe":
			callTool(ctx, session, "describe_graph_model", map[string]any{})

		case strings.HasPrefix(input, "/migrate"):
			parts := strings.Fields(input)
			callTool(ctx, session, "run_migration", map[string]any{
				"reset": len(parts) > 1 && parts[1] == "reset",
			})

		case input == "/last":
			callTool(ctx, session, "last_report", map[string]any{})

		case input == "/counts":
			callTool(ctx, session, "count_classes", map[string]any{})

		case strings.HasPrefix(input, "/graph "):
			callTool(ctx, session, "query_graph", graphArgs(strings.TrimPrefix(input, "/graph ")))

		default:
			fmt.Println("Unknown command, type /tools or /exit")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Scanner error: %v", err)
	}
}

func listTools(ctx context.Context, session *mcp.ClientSession) {
	fmt.Println("Available Tools:")
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			log.Printf("Error listing tools: %v", err)
			return
		}
		fmt.Printf("  - %s: %s\n", tool.Name, tool.Description)
	}
	fmt.Println()
}

func callTool(ctx context.Context, session *mcp.ClientSession, toolName string, args map[string]any) {
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		log.Printf("Error calling tool: %v", err)
		return
	}

	printResult(result)
}

// graphArgs parses "[limit] <cypher>": a leading integer caps the rows.
func graphArgs(input string) map[string]any {
	args := map[string]any{"cypher": input}
	first, rest, ok := strings.Cut(strings.TrimSpace(input), " ")
	if n, err := strconv.Atoi(first); ok && err == nil && n > 0 {
		args["cypher"] = rest
		args["limit"] = n
	}
	return args
}

func printResult(result *mcp.CallToolResult) {
	if result.IsError {
		fmt.Print("Error: ")
	} else {
		fmt.Print("Result: ")
	}

	// Structured output is the tool's typed result; text content is the
	// same data pre-rendered, so only one of them is printed.
	if result.StructuredContent != nil && !result.IsError {
		jsonData, err := json.MarshalIndent(result.StructuredContent, "", "  ")
		if err == nil {
			fmt.Println(string(jsonData))
			fmt.Println()
			return
		}
	}

	for _, content := range result.Content {
		switch v := content.(type) {
		case *mcp.TextContent:
			fmt.Println(v.Text)
		default:
			jsonData, err := json.MarshalIndent(content, "", "  ")
			if err != nil {
				fmt.Printf("%+v\n", content)
			} else {
				fmt.Println(string(jsonData))
			}
		}
	}
	fmt.Println()
}
