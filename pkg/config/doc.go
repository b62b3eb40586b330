// Package config loads the recognized configuration keys of spec.md §6
// into a typed Config from a YAML file (grounded on cmd/warren/apply.go's
// yaml.v3 use for declarative resources); cmd/syncstore has no per-key
// flags. Default() returns the spec's documented defaults.
package config
