// Package config defines the settings of the firmware sync and provides
// helpers to load, validate and save them in YAML format.
//
// The Config type holds the GitHub repository coordinates, the name of the
// token variable and the local layout of firmware binaries and the manifest.
package config
