package websocket

import "encoding/json"

// decodePayload re-encodes a generic message payload into a typed request.
func decodePayload(payload interface{}, into interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}
