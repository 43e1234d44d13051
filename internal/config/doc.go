// Package config loads the application configuration from a YAML or JSON
// file, with strict decoding and optional live reload via fsnotify.
package config
