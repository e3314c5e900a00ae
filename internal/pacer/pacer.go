// Package pacer drives a render callback at the active profile's frame
// rate and reports every presented frame back to the controller.
package pacer

import (
	"context"
	"time"

	"codeberg.org/mutker/framectl/internal/logger"
	"codeberg.org/mutker/framectl/internal/profile"
)

const fallbackRate = 60

// ProfileSource returns the profile to render the next frame with.
type ProfileSource interface {
	ActiveProfile() profile.Profile
}

// FrameSink receives the presentation time of every frame.
type FrameSink interface {
	RecordFrame(at time.Time)
}

// RenderFunc draws one frame.
type RenderFunc func(p profile.Profile)

type Pacer struct {
	source ProfileSource
	sink   FrameSink
	render RenderFunc
	log    logger.Logger
}

func New(source ProfileSource, sink FrameSink, render RenderFunc) *Pacer {
	if render == nil {
		render = func(profile.Profile) {}
	}

	return &Pacer{
		source: source,
		sink:   sink,
		render: render,
		log:    logger.Component("pacer"),
	}
}

// Interval returns the frame period for rate. Non-positive rates use 60 Hz.
func Interval(rate int) time.Duration {
	if rate <= 0 {
		rate = fallbackRate
	}
	return time.Second / time.Duration(rate)
}

// Run renders frames until ctx is done. The profile is read before every
// frame, so rate changes apply from the next frame on. Frames are scheduled
// on a running deadline, so render time does not stretch the period.
func (p *Pacer) Run(ctx context.Context) {
	current := p.source.ActiveProfile().FrameRate
	p.log.Debug().Int("frame_rate", current).Msg("Pacer started")

	next := time.Now().Add(Interval(current))
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Debug().Msg("Pacer stopped")
			return
		case <-timer.C:
		}

		prof := p.source.ActiveProfile()
		if prof.FrameRate != current {
			p.log.Debug().
				Int("from", current).
				Int("to", prof.FrameRate).
				Msg("Pacing rate changed")
			current = prof.FrameRate
		}

		p.render(prof)
		p.sink.RecordFrame(time.Now())

		next = nextDeadline(next, time.Now(), Interval(current))
		timer.Reset(time.Until(next))
	}
}

// nextDeadline advances prev by one interval. A pacer that has fallen more
// than a full interval behind restarts from now instead of bursting frames
// to catch up.
func nextDeadline(prev, now time.Time, interval time.Duration) time.Time {
	next := prev.Add(interval)
	if now.Sub(next) > interval {
		return now.Add(interval)
	}
	return next
}
