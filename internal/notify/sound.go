package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/duisenbekovayan/order_live/internal/models"
)

// Tone is a short sine chime.
type Tone struct {
	Frequency float64 // Hz
	Duration  time.Duration
}

var tones = map[models.OrderStatus]float64{
	models.StatusPending:   523.25, // C5
	models.StatusPreparing: 587.33, // D5
	models.StatusReady:     783.99, // G5
	models.StatusCompleted: 659.25, // E5
	models.StatusCancelled: 220.00, // A3
}

// ToneFor returns the chime of a status. Unknown statuses get the pending chime.
func ToneFor(status models.OrderStatus) Tone {
	f, ok := tones[status]
	if !ok {
		f = tones[models.StatusPending]
	}
	return Tone{Frequency: f, Duration: 400 * time.Millisecond}
}

// Samples renders t as mono samples in [-1, 1] with an exponential decay envelope.
func (t Tone) Samples(rate int) []float64 {
	n := int(math.Round(t.Duration.Seconds() * float64(rate)))
	out := make([]float64, n)
	const gain = 0.3
	for i := range out {
		sec := float64(i) / float64(rate)
		env := math.Exp(-6 * sec / t.Duration.Seconds())
		out[i] = gain * env * math.Sin(2*math.Pi*t.Frequency*sec)
	}
	return out
}

// WAV encodes t as a 16-bit PCM mono WAV file.
func (t Tone) WAV(rate int) []byte {
	samples := t.Samples(rate)
	dataLen := uint32(len(samples) * 2)

	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, 36+dataLen)
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, struct {
		Size          uint32
		Format        uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{16, 1, 1, uint32(rate), uint32(rate * 2), 2, 16})
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataLen)
	for _, s := range samples {
		_ = binary.Write(&b, binary.LittleEndian, int16(s*math.MaxInt16))
	}
	return b.Bytes()
}

// Player plays a tone. Errors are cosmetic and never reach Show callers.
type Player interface {
	Play(ctx context.Context, t Tone) error
}

// BellPlayer rings the terminal bell.
type BellPlayer struct {
	W io.Writer
}

func (p BellPlayer) Play(_ context.Context, _ Tone) error {
	if p.W == nil {
		return fmt.Errorf("bell: no terminal")
	}
	_, err := io.WriteString(p.W, "\a")
	return err
}
