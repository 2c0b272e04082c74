// Package notifications delivers operator push notifications through ntfy.
// With no topic configured every notification is a silent no-op, so callers
// never need to guard their notify calls.
package notifications
