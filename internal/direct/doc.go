// Package direct decodes direct-mode requests, whose path carries the full
// upstream URL after a configurable prefix:
//
//	GET /proxy/https://example.com/a?b=1  ->  https://example.com/a?b=1
package direct
