// Package common holds helpers shared by the sync services.
//
// It provides a GitHub releases client bound to one repository, with call
// timeouts, pagination limits and annotated tag resolution.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
