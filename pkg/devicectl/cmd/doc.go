// Package cmd implements the cobra command tree of devicectl: the device-code
// command that runs the device authorization grant, profile configuration,
// version information and shell completion.
package cmd
