package channels

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// -----------------------------------------------------------------------------

// ErrUnsupportedChannelType is returned for private- and presence- channels.
// They require a signed authentication handshake this client does not
// implement.
var ErrUnsupportedChannelType = errors.New("private and presence channels are not supported")

// -----------------------------------------------------------------------------

// validChannelName is the allowed channel name charset.
var validChannelName = regexp.MustCompile(`^[a-zA-Z0-9_\-=@,.;]+$`)

// -----------------------------------------------------------------------------

// ValidateChannelName checks a channel name before it is tracked.
func ValidateChannelName(name string) error {
	if name == "" || !validChannelName.MatchString(name) {
		return fmt.Errorf("invalid channel name '%s'", name)
	}
	if strings.HasPrefix(name, "private-") || strings.HasPrefix(name, "presence-") {
		return fmt.Errorf("channel '%s': %w", name, ErrUnsupportedChannelType)
	}
	return nil
}
