package meshnet

import (
	"encoding/json"
	"fmt"

	"github.com/swarmcast/meshcore/internal/meshcore"
	"github.com/swarmcast/meshcore/internal/message"
)

func marshalMessage(msg message.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (message.Message, error) {
	var msg message.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", meshcore.ErrMalformedMessage, err)
	}
	return msg, nil
}
