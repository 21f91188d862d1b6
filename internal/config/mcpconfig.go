package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/kestrel-run/deskagent/internal/mcp"
)

// InputSpec describes one placeholder value an .mcp.json document may
// reference in a server's env map.
type InputSpec struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Password    bool   `json:"password,omitempty"`
}

// mcpDocument is the on-disk shape of the MCP configuration file.
type mcpDocument struct {
	Inputs  []InputSpec                   `json:"inputs,omitempty"`
	Servers map[string]*mcpServerDocument `json:"servers"`
}

// mcpServerDocument mirrors mcp.ServerConfig's wire shape; kept distinct so
// this package doesn't need the id to be repeated inside the JSON value.
type mcpServerDocument struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

var placeholderPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// LoadMCPConfig reads the MCP server configuration document at path,
// resolving every %PLACEHOLDER% in a server's env map against its declared
// inputs (prompted once, interactively, the first time each is needed) or
// the process environment. An unresolved placeholder is a ConfigError:
// the whole document fails to load rather than starting that one server
// with a missing secret.
func LoadMCPConfig(path string) (*mcp.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config %s: %w", path, err)
	}

	var doc mcpDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}

	resolved := map[string]string{}

	ids := make([]string, 0, len(doc.Servers))
	for id := range doc.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	servers := make([]*mcp.ServerConfig, 0, len(doc.Servers))
	for _, id := range ids {
		raw := doc.Servers[id]
		env, err := resolveEnv(raw.Env, doc.Inputs, resolved)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", id, err)
		}

		cfg := &mcp.ServerConfig{
			ID:        id,
			Name:      id,
			Transport: mcp.TransportType(raw.Type),
			Command:   raw.Command,
			Args:      raw.Args,
			Env:       env,
			WorkDir:   raw.Cwd,
			AutoStart: true,
		}
		if cfg.Transport == "" {
			cfg.Transport = mcp.TransportStdio
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("server %s: %w", id, err)
		}
		servers = append(servers, cfg)
	}

	return &mcp.Config{Enabled: true, Servers: servers}, nil
}

// resolveEnv substitutes every %NAME% placeholder in env's values against
// inputs (prompting once per input id, cached in resolved) or the process
// environment, in that order.
func resolveEnv(env map[string]string, inputs []InputSpec, resolved map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}

	byID := make(map[string]InputSpec, len(inputs))
	for _, in := range inputs {
		byID[in.ID] = in
	}

	out := make(map[string]string, len(env))
	for k, v := range env {
		substituted, err := substitutePlaceholders(v, byID, resolved)
		if err != nil {
			return nil, err
		}
		out[k] = substituted
	}
	return out, nil
}

func substitutePlaceholders(value string, byID map[string]InputSpec, resolved map[string]string) (string, error) {
	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]

		if v, ok := resolved[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			resolved[name] = v
			return v
		}
		if spec, ok := byID[name]; ok {
			v, err := promptForInput(spec)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return match
			}
			resolved[name] = v
			return v
		}

		if firstErr == nil {
			firstErr = fmt.Errorf("unresolved placeholder %%%s%%: no matching input or environment variable", name)
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// promptForInput reads one line from stdin for an input not already
// satisfied by the environment. Password inputs are not echo-suppressed
// here; the CLI's interactive shell is expected to own terminal mode.
func promptForInput(spec InputSpec) (string, error) {
	fmt.Fprintf(os.Stderr, "%s (%s): ", spec.ID, spec.Description)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input %s: %w", spec.ID, err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if line == "" {
		return "", fmt.Errorf("input %s is required", spec.ID)
	}
	return line, nil
}
