// Package services holds cross-cutting helpers for external collaborator
// clients: sentinel error classification and context annotation used by
// structured logging.
package services
