// Package transcriber holds the engines invoked by the transcribe stage. The
// pipeline treats them as opaque: audio in, per-instrument outputs back.
package transcriber

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// Request describes one transcription run.
type Request struct {
	JobID   uuid.UUID
	Audio   entity.AudioSource
	Modes   []string
	Profile string
	// Open streams the audio for local sources. It is nil for remote sources.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Output is one rendered artifact for an instrument.
type Output struct {
	Category        string
	Format          string
	ContentType     string
	Data            []byte
	DurationSeconds *int
	PageCount       *int
}

// ProgressFunc receives completion ratios in [0, 1].
type ProgressFunc func(ratio float64)

// Extension maps an output format to the file extension used in storage.
func Extension(format string) string {
	switch format {
	case entity.FormatMIDI:
		return "mid"
	case entity.FormatMusicXML:
		return "musicxml"
	case entity.FormatPDF:
		return "pdf"
	default:
		return format
	}
}

func ContentType(format string) string {
	switch format {
	case entity.FormatMIDI:
		return "audio/midi"
	case entity.FormatMusicXML:
		return "application/vnd.recordare.musicxml+xml"
	case entity.FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
