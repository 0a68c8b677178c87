package cb

import (
	"time"
)

// A server known to a configuration backend. The configuration
// elements are assigned to servers by tag; the built-in server with
// the "all" tag exists in every backend and holds the configuration
// applying to all servers.
type Server struct {
	// Database identifier, zero before the first insert.
	ID int64
	// Unique server tag.
	Tag string
	// Free form description.
	Description string
	// Last modification time, maintained by the backends.
	ModificationTime time.Time
}

// Validates the server. The reserved literals cannot tag a concrete
// server.
func (server *Server) Validate() error {
	return ValidateServerTag(server.Tag)
}
