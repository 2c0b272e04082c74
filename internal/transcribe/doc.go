// Package transcribe runs the transcription stage: workers claim arrived
// recordings, send them to the speech-to-text collaborator, and persist the
// transcript artifact before handing the recording to the batching stage.
package transcribe
