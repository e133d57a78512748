package meshnet

import (
	"fmt"

	"github.com/swarmcast/meshcore/internal/meshcore"
)

func errUnknownTransport(remoteID string) error {
	return fmt.Errorf("%w: no open channel to %s", meshcore.ErrUnknownTransport, remoteID)
}
