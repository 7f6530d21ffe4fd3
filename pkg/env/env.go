// Package env reads raw environment variables for the code paths that run
// before the envconfig-backed configuration exists, such as logger
// bootstrap.
package env

import "os"

// Get returns the value of the given environment variable, or the fallback
// when it is unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
