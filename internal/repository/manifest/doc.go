// Package manifest implements persistence for the release manifest.
//
// The FileRepository stores and loads the manifest as compact JSON on disk and
// replaces the file atomically, so readers never observe a partial manifest.
package manifest
