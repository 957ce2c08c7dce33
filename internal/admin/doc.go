// Package admin serves the management API: rule CRUD, runtime settings,
// status and metrics. Every JSON response uses the same envelope
//
//	{"success": bool, "data": ..., "message": "..."}
//
// Authentication is expected to be handled in front of this listener.
package admin
