package acquisition

import (
	"context"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

// FrameSource produces frames for a channel. It is satisfied by the remote collector client and by
// the synthetic generator.
type FrameSource interface {
	NextFrame(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error)
}

// Collector is a FrameSource with a remote lifecycle: production begins on Start and ends on Stop.
type Collector interface {
	FrameSource
	Start(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error)
	Stop(ctx context.Context, ch spectrum.Channel) error
}

// Normalizer turns a raw frame into the frame that gets displayed.
type Normalizer interface {
	Normalize(f spectrum.Frame) (spectrum.Frame, error)
}

// Local adapts a source that needs no start or stop, such as a synthetic generator. Start returns
// the first frame of the source and Stop does nothing.
func Local(src FrameSource) Collector {
	return localCollector{src: src}
}

type localCollector struct {
	src FrameSource
}

func (l localCollector) NextFrame(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error) {
	return l.src.NextFrame(ctx, ch)
}

func (l localCollector) Start(ctx context.Context, ch spectrum.Channel) (spectrum.Frame, error) {
	return l.src.NextFrame(ctx, ch)
}

func (l localCollector) Stop(context.Context, spectrum.Channel) error {
	return nil
}
