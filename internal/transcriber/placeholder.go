package transcriber

import (
	"context"
	"fmt"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

const emptyScore = `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="4.0">
  <part-list>
    <score-part id="P1"><part-name>%s</part-name></score-part>
  </part-list>
  <part id="P1"/>
</score-partwise>
`

// Placeholder emits an empty MusicXML score per requested instrument. It is
// used when no external engine is configured.
type Placeholder struct{}

func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

func (p *Placeholder) Transcribe(ctx context.Context, req Request, progress ProgressFunc) ([]Output, error) {
	outputs := make([]Output, 0, len(req.Modes))
	for i, mode := range req.Modes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{
			Category:    mode,
			Format:      entity.FormatMusicXML,
			ContentType: ContentType(entity.FormatMusicXML),
			Data:        []byte(fmt.Sprintf(emptyScore, mode)),
		})
		if progress != nil {
			progress(float64(i+1) / float64(len(req.Modes)))
		}
	}
	return outputs, nil
}
