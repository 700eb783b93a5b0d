package rtc

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"

	"github.com/dkeye/voicecall/internal/core"
)

const PCMURate = 8000

// EncodePCMU downsamples frame from rate to 8kHz by averaging and encodes it
// as u-law. Muted frames encode as silence.
func EncodePCMU(frame []int16, rate int, muted bool) []byte {
	step := rate / PCMURate
	if step < 1 {
		step = 1
	}
	out := make([]byte, 0, len(frame)/step)
	for i := 0; i+step <= len(frame); i += step {
		var v int16
		if !muted {
			sum := 0
			for _, s := range frame[i : i+step] {
				sum += int(s)
			}
			v = int16(sum / step)
		}
		out = append(out, g711.EncodeUlawFrame(v))
	}
	return out
}

func DecodePCMU(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = g711.DecodeUlawFrame(b)
	}
	return out
}

func pump(ctx context.Context, stream core.PCMStream, track *webrtc.TrackLocalStaticSample, callID string) {
	frames, cancel := stream.Subscribe(32)
	defer cancel()

	var first core.AudioTrack
	if tracks := stream.AudioTracks(); len(tracks) > 0 {
		first = tracks[0]
	}
	rate := stream.SampleRate()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if first != nil && first.Stopped() {
				return
			}
			muted := first != nil && !first.Enabled()
			sample := media.Sample{
				Data:     EncodePCMU(f, rate, muted),
				Duration: time.Duration(len(f)) * time.Second / time.Duration(rate),
			}
			if err := track.WriteSample(sample); err != nil {
				log.Error().Err(err).Str("module", "rtc").Str("call_id", callID).Msg("write sample")
				return
			}
		}
	}
}
