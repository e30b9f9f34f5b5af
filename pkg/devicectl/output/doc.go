// Package output renders devicectl results as tables, JSON or YAML.
package output
