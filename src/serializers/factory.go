package serializers

import (
	"fmt"

	"event-ingestor/src/interfaces"
)

// -----------------------------------------------------------------------------

// ForName returns the serializer selected by configuration.
// An empty name defaults to JSON.
func ForName(name string) (interfaces.ISerializer, error) {
	switch name {
	case "", "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewBinSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer '%s'", name)
	}
}
