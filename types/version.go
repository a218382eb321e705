//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// The CLI, the server and the event contract share this version.
const Version = "0.3.0"
