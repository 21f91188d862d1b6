package builtin

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kestrel-run/deskagent/internal/tools"
)

// UUIDDescriptor describes the generate_uuid tool: a single random v4 UUID,
// for callers that need a fresh correlation id or placeholder identifier.
var UUIDDescriptor = tools.Descriptor{
	Name:        "generate_uuid",
	Description: "Generates a new random (v4) UUID.",
	Origin:      "builtin",
}

type uuidResult struct {
	UUID string `json:"uuid"`
}

// UUID handles generate_uuid invocations.
func UUID(ctx context.Context, args json.RawMessage) (any, error) {
	return uuidResult{UUID: uuid.NewString()}, nil
}
