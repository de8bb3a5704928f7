// Package config loads engine settings from YAML or CUE files.
//
// Both formats are checked against the embedded schema.cue, so a YAML file
// and a CUE file with the same content produce the same Config and the
// same validation errors.
package config
