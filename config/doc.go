// Package config loads the proxy configuration from a YAML file and PROXY_*
// environment variables, applies defaults and validates the result.
package config
