package alert

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/calumw/pilltick/internal/alarm"
	"github.com/calumw/pilltick/internal/medication"
	"go.uber.org/zap"
)

const (
	audioSampleRate = 22050
	audioAmplitude  = 0.45
)

// playerCandidates in preference order. The first one on PATH wins.
var playerCandidates = []string{"paplay", "aplay", "afplay", "ffplay"}

// AudioChannel plays the reminder's alarm tone on the local speaker. Tones
// are synthesized once per sound id into the cache directory and played with
// whatever command-line player the host provides.
type AudioChannel struct {
	cacheDir string
	logger   *zap.Logger

	mu     sync.Mutex
	player string
	probed bool
}

// NewAudioChannel creates the speaker channel. cacheDir holds the generated
// tone files and is created on first use. player overrides autodetection when
// non-empty.
func NewAudioChannel(cacheDir, player string, logger *zap.Logger) *AudioChannel {
	a := &AudioChannel{cacheDir: cacheDir, logger: logger}
	if player != "" {
		a.player = player
		a.probed = true
	}
	return a
}

func (a *AudioChannel) Name() string { return "audio" }

// Deliver synthesizes (or reuses) the tone for the alarm's sound and plays it
func (a *AudioChannel) Deliver(v alarm.View) error {
	player, err := a.findPlayer()
	if err != nil {
		return err
	}

	path, err := a.toneFile(v.Sound)
	if err != nil {
		return err
	}

	args := []string{path}
	if player == "ffplay" {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
	}

	cmd := exec.Command(player, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback via %s failed: %w", player, err)
	}
	return nil
}

func (a *AudioChannel) findPlayer() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.probed {
		if a.player == "" {
			return "", fmt.Errorf("no audio player found (tried %v)", playerCandidates)
		}
		return a.player, nil
	}
	a.probed = true

	for _, candidate := range playerCandidates {
		if _, err := exec.LookPath(candidate); err == nil {
			a.player = candidate
			a.logger.Debug("Audio player detected", zap.String("player", candidate))
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried %v)", playerCandidates)
}

func (a *AudioChannel) toneFile(sound string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sound == "" {
		sound = medication.SoundClassic
	}
	path := filepath.Join(a.cacheDir, "tone-"+sound+".wav")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tone cache: %w", err)
	}

	samples := synthesizeTone(sound)
	if err := writeWAV(path, samples); err != nil {
		return "", fmt.Errorf("failed to write tone file: %w", err)
	}
	return path, nil
}

// toneSpec describes one burst of a tone pattern
type toneSpec struct {
	freq     float64
	duration float64 // seconds; zero freq means silence
	square   bool
}

// tonePatterns maps each sound id to its burst sequence
var tonePatterns = map[string][]toneSpec{
	medication.SoundClassic: {
		{freq: 880, duration: 0.18}, {duration: 0.10},
		{freq: 880, duration: 0.18}, {duration: 0.25},
		{freq: 880, duration: 0.18}, {duration: 0.10},
		{freq: 880, duration: 0.18},
	},
	medication.SoundChime: {
		{freq: 523.25, duration: 0.30}, {freq: 659.25, duration: 0.30},
		{freq: 783.99, duration: 0.45},
	},
	medication.SoundBeep: {
		{freq: 1000, duration: 0.12, square: true}, {duration: 0.12},
		{freq: 1000, duration: 0.12, square: true},
	},
	medication.SoundUrgent: {
		{freq: 1400, duration: 0.10, square: true}, {freq: 900, duration: 0.10, square: true},
		{freq: 1400, duration: 0.10, square: true}, {freq: 900, duration: 0.10, square: true},
		{freq: 1400, duration: 0.10, square: true}, {freq: 900, duration: 0.10, square: true},
	},
}

func synthesizeTone(sound string) []int16 {
	pattern, ok := tonePatterns[sound]
	if !ok {
		pattern = tonePatterns[medication.SoundClassic]
	}

	var samples []int16
	for _, burst := range pattern {
		n := int(burst.duration * audioSampleRate)
		for i := 0; i < n; i++ {
			if burst.freq == 0 {
				samples = append(samples, 0)
				continue
			}
			phase := 2 * math.Pi * burst.freq * float64(i) / audioSampleRate
			var val float64
			if burst.square {
				if math.Sin(phase) >= 0 {
					val = 1
				} else {
					val = -1
				}
			} else {
				val = math.Sin(phase)
			}
			// Short fade at burst edges avoids clicks
			edge := float64(n) * 0.05
			if fi := float64(i); fi < edge {
				val *= fi / edge
			} else if fi > float64(n)-edge {
				val *= (float64(n) - fi) / edge
			}
			samples = append(samples, int16(val*audioAmplitude*math.MaxInt16))
		}
	}
	return samples
}

// writeWAV emits a minimal 16-bit mono PCM RIFF file
func writeWAV(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dataLen := uint32(len(samples) * 2)
	var header [44]byte
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], 36+dataLen)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], 1) // mono
	binary.LittleEndian.PutUint32(header[24:], audioSampleRate)
	binary.LittleEndian.PutUint32(header[28:], audioSampleRate*2)
	binary.LittleEndian.PutUint16(header[32:], 2)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], dataLen)

	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	_, err = f.Write(buf)
	return err
}
