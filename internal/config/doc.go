// Package config loads the orchd runtime configuration from JSON or YAML
// files and fills in defaults for every section the operator leaves empty.
package config
