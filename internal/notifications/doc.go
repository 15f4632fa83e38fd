// Package notifications delivers pipeline milestones via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured
// in config.toml and degrades to a no-op when no topic is set. Per-event
// toggles let users silence capture chatter while keeping failure alerts.
package notifications
