package bus

import (
	"fmt"

	"github.com/swarmcast/meshcore/internal/message"
	"github.com/swarmcast/meshcore/internal/meshcore"
)

// Validate checks the invariants spec §4.1 requires before a message may be
// dispatched: type/from/to are always required, and forwardable types
// additionally require ttl/forwardBy. Validation failures, like frames
// that internal/meshnet cannot decode, are reported as MalformedMessage
// (spec §7: logged and dropped, per-message locality).
func Validate(msg message.Message) error {
	if msg.Type == "" {
		return fmt.Errorf("%w: empty type", meshcore.ErrMalformedMessage)
	}
	if msg.From == "" {
		return fmt.Errorf("%w: missing from", meshcore.ErrMalformedMessage)
	}
	if msg.To == "" {
		return fmt.Errorf("%w: missing to", meshcore.ErrMalformedMessage)
	}
	if message.Forwardable(msg.Type) {
		if msg.TTL < 0 {
			return fmt.Errorf("%w: negative ttl", meshcore.ErrMalformedMessage)
		}
		if msg.ForwardBy == nil {
			return fmt.Errorf("%w: missing forwardBy", meshcore.ErrMalformedMessage)
		}
	}
	for _, id := range msg.ForwardBy {
		if id == msg.From {
			return fmt.Errorf("%w: from present in forwardBy", meshcore.ErrMalformedMessage)
		}
	}
	return nil
}
