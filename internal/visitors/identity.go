// Package visitors owns the canonical visitor record: one row per
// (IP address, project) identity, created or overwritten on every hit.
package visitors

const (
	// UnknownIP is recorded when no client address could be resolved.
	UnknownIP = "unknown"
	// AllProjects disables the project filter on read queries. Matching is exact.
	AllProjects = "All"
	// Unknown is the fallback for enrichment fields that could not be resolved.
	Unknown = "Unknown"
)

// Identity is the uniqueness key of a visitor. Both parts are compared as raw
// strings, without trimming or case folding.
type Identity struct {
	IPAddress   string
	ProjectName string
}

// IdentityOf builds the identity for a hit.
func IdentityOf(ipAddress, projectName string) (Identity, error) {
	if ipAddress == "" || projectName == "" {
		return Identity{}, ErrInvalidIdentity
	}
	return Identity{IPAddress: ipAddress, ProjectName: projectName}, nil
}

// String renders the identity for logs.
func (i Identity) String() string {
	return i.ProjectName + "/" + i.IPAddress
}
