// Package archive sweeps finished recordings out of the working directories.
// Analyzed recordings and terminal failures move into a dated archive tree,
// then transition to the archived stage.
package archive
