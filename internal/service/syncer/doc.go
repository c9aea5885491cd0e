// Package syncer mirrors firmware releases from GitHub into the front-end assets.
//
// It lists the releases of the configured repository, resolves each tag to its
// commit, downloads the firmware asset into the asset directory and writes the
// JSON manifest of every release that was synced. Show prints an existing
// manifest.
package syncer
