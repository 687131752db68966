package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
)

// MCP transport kinds accepted in configuration.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// MCPServerConfig describes one external MCP tool server.
type MCPServerConfig struct {
	// Name labels the server in logs.
	Name string `yaml:"name"`
	// Transport is TransportStdio or TransportStreamableHTTP.
	Transport string `yaml:"transport"`
	// Command is the stdio server command line (executable + args).
	Command string `yaml:"command"`
	// URL is the streamable-HTTP endpoint.
	URL string `yaml:"url"`
	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}

// RegisterMCPServer connects to the MCP server described by cfg and registers
// each of its tools in the registry. Remote tools share the same validation
// and timeout envelope as builtins; the handler routes through the session.
//
// The session is held open for the registry's lifetime and released by
// [Registry.Close].
func (r *Registry) RegisterMCPServer(ctx context.Context, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("tools: mcp stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: mcp streamable-http server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "trunkline", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to mcp server %q: %w", cfg.Name, err)
	}

	var count int
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for mcp server %q: %w", cfg.Name, err)
		}
		def := llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		}
		name := tool.Name
		handler := func(ctx context.Context, args map[string]any) (string, error) {
			return callMCPTool(ctx, session, name, args)
		}
		if err := r.Register(def, handler); err != nil {
			_ = session.Close()
			return err
		}
		count++
	}

	r.mu.Lock()
	r.sessions = append(r.sessions, session)
	r.mu.Unlock()

	r.log.Info("registered mcp server", "server", cfg.Name, "tools", count)
	return nil
}

// Close releases all MCP server sessions held by the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close mcp session: %w", err)
		}
	}
	r.sessions = nil
	return firstErr
}

// callMCPTool invokes a remote tool and concatenates its text content.
func callMCPTool(ctx context.Context, session *mcpsdk.ClientSession, name string, args map[string]any) (string, error) {
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("call mcp tool %q: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool %q reported error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// schemaToMap converts any schema value to a decoded JSON Schema document.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
