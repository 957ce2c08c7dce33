// Package reconciler periodically rewrites rules whose persistence failed,
// bringing the store back in line with the live rule table.
package reconciler
