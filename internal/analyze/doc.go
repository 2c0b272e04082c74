// Package analyze runs the analysis stage: sealed batches are consumed in
// seal order, judged by the semantic analysis collaborator, and persisted as
// verdicts. Verdicts at or above the severity threshold raise push alerts.
package analyze
