// Package release holds the manifest model written for the front-end:
// one Record per synced firmware release and the Manifest wrapping them.
package release
