package builtin

import "github.com/kestrel-run/deskagent/internal/tools"

// RegisterAll registers every builtin tool into r. Per the wiring order,
// this must complete before MCP servers are started and their tools
// merged in, so a name collision between a builtin and an MCP tool is
// caught as the MCP side's registration failure, not silently shadowed.
func RegisterAll(r *tools.Registry) error {
	if err := r.Register(ClockDescriptor, Clock); err != nil {
		return err
	}
	if err := r.Register(UUIDDescriptor, UUID); err != nil {
		return err
	}
	return nil
}
