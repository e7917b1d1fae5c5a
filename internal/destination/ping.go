package destination

import (
	"context"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// PingFunction is executed by health probes.
const PingFunction = "RFC_PING"

// Ping executes the ping function statelessly on dest.
func Ping(ctx context.Context, dest rfc.Destination) error {
	_, err := dest.Execute(ctx, &rfc.Invocation{
		Function: PingFunction,
		Imports:  map[string]any{},
		Tables:   map[string][]map[string]any{},
	})
	return err
}
