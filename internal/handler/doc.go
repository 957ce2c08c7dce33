// Package handler implements the proxy listener's request dispatcher. Each
// request is served either in direct mode, where the target URL is carried in
// the path, or by matching the path against the current rule table.
package handler
