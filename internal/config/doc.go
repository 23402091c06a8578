// Package config provides configuration loading and validation for the audio splitter.
// It reads YAML on top of built-in defaults and validates every section,
// including the table of outputs and the roles each output plays.
package config
