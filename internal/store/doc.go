// Package store persists rules and runtime settings in SQLite through gorm.
//
// Store implements ruletable.Persister. Rules live in proxy_rules, settings
// such as the direct-proxy path in system_config.
package store
