// Package builtin implements the assistant's in-process tools: the ones
// registered at startup before any MCP server is consulted.
package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrel-run/deskagent/internal/tools"
)

// ClockDescriptor describes the current_time tool: it takes an optional
// IANA timezone name and returns the current time formatted as RFC3339.
var ClockDescriptor = tools.Descriptor{
	Name:        "current_time",
	Description: "Returns the current date and time, optionally in a named IANA timezone.",
	Origin:      "builtin",
	ArgSchema: tools.ArgSchema{
		Fields: []tools.Field{
			{Name: "timezone", Type: tools.FieldString, Required: false, Description: "IANA timezone name, e.g. \"America/New_York\"; defaults to UTC"},
		},
	},
}

type clockArgs struct {
	Timezone string `json:"timezone"`
}

type clockResult struct {
	Now      string `json:"now"`
	Timezone string `json:"timezone"`
}

// Clock handles current_time invocations.
func Clock(ctx context.Context, args json.RawMessage) (any, error) {
	var parsed clockArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, err
		}
	}

	loc := time.UTC
	name := "UTC"
	if parsed.Timezone != "" {
		l, err := time.LoadLocation(parsed.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
		name = parsed.Timezone
	}

	return clockResult{Now: time.Now().In(loc).Format(time.RFC3339), Timezone: name}, nil
}
