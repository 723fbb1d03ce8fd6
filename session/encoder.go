package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt is returned by Decode for a record that is not a session.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes s for storage.
func Encode(s *Session) (string, error) {
	if s == nil {
		return "", errors.New("session: nil session")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored record. An incomplete but well-formed record decodes
// without error; callers check Complete.
func Decode(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &s, nil
}
