// Package ingest watches the inbound directory for new audio recordings and
// registers them with the stage store. Registration is keyed by filename stem,
// so redelivered or rescanned files never produce duplicate recordings.
package ingest
