// Package instance identifies this engine installation. The id travels on
// every gateway request so backend logs can tell devices apart.
package instance

import (
	"github.com/google/uuid"

	"github.com/nashtto/cart-engine/pkg/env"
)

// Header is the request header carrying the installation id.
const Header = "X-Device-ID"

var generated = uuid.NewString()

// GetID returns the configured installation identifier, or a per-process
// random id when none is set.
func GetID() string {
	return env.Get("NASHTTO_DEVICE_ID", generated)
}
