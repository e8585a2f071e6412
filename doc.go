/*
Package dlengine is a package-manager download engine: it fetches package
files and their detached signatures from a list of candidate mirrors into
a local cache directory, with resume support, freshness checks, parallel
transfers, mirror failover, and graceful reaction to user interruption.

dlengine provides:
  - Per-payload state machines: probe, transfer, verify, atomically rename
  - Opportunistic resume of interrupted transfers via Range requests
  - Byte-budget enforcement with mid-transfer cancellation
  - Bounded-parallelism scheduling with per-payload mirror rotation
  - A TOML-configured, cobra-driven command-line front end

The main packages are:

	github.com/caseorum/dlengine/internal/download  - the download engine itself
	github.com/caseorum/dlengine/internal/fetchctl  - configuration, locking, and orchestration
	github.com/caseorum/dlengine/cmd/dlfetch        - command-line interface
*/
package dlengine
