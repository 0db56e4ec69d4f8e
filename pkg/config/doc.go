// Package config loads samlgate configuration from the environment and the
// identity-provider definitions from a JSON file.
package config
