// Package stt provides the speech-to-text collaborator. The HTTP client
// targets whisper-style transcription servers that accept a multipart audio
// upload and return the transcript as JSON.
package stt
