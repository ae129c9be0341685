// Package protocol is the typed HTTP/JSON layer between the client and the
// sync server.
//
// # Overview
//
// The package provides:
//  1. The Client contract: Pull, Push, Status and ResolveConflicts for the
//     sync cycle, the auth endpoints, attachment presigning, and Subscribe
//     for the live change feed.
//  2. HTTPClient, the concrete implementation. It attaches the bearer token
//     to every authenticated call, refreshes it exactly once on a 401 and
//     replays the call, unwraps the {success, data, error} envelope, and
//     runs every call under the retry controller.
//
// # Errors
//
// Failures are *common.Error values whose Kind is set here, at the point of
// origin: transport failures are KindNetwork, non-2xx responses are
// classified by status code with the server's message preserved.
//
// # Payloads
//
// Inbound change payloads are validated against the entity schema before
// they are handed to the caller; invalid ones are dropped and logged.
package protocol
