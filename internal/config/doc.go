// Package config loads the daemon configuration from JSON or YAML files and
// fills in protocol defaults for fields the operator leaves unset.
package config
