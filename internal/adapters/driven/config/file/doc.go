// Package file stores carchive settings in ~/.carchive/config.toml.
//
// Keys use dot notation ("search.max_limit", "buffer.default_ttl") and are
// written as nested TOML tables. Durations are kept as strings such as "24h"
// and read back with GetDuration. Saves go through a temporary file and a
// rename, so a crash never leaves a truncated config behind.
//
// Secrets taken from the environment are applied by the settings service and
// never written here.
package file
