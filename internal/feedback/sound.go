package feedback

import (
	"context"
	"os/exec"
	"time"

	"github.com/gen2brain/beeep"

	"dictd/internal/logging"
)

const soundDir = "/usr/share/sounds/freedesktop/stereo/"

// Sounds maps events to sound files. Empty entries are silent.
type Sounds struct {
	Start string
	Stop  string
	Error string
}

// DefaultSounds uses the freedesktop sound theme.
func DefaultSounds() Sounds {
	return Sounds{
		Start: soundDir + "message.oga",
		Stop:  soundDir + "complete.oga",
		Error: soundDir + "dialog-error.oga",
	}
}

// SoundNotifier plays a short sound per event with paplay, or beeps when
// paplay is not installed.
type SoundNotifier struct {
	sounds  Sounds
	player  string
	timeout time.Duration
	log     *logging.Logger

	// play is replaced in tests.
	play func(ctx context.Context, file string) error
}

func NewSoundNotifier(sounds Sounds, log *logging.Logger) *SoundNotifier {
	s := &SoundNotifier{sounds: sounds, timeout: time.Second, log: log}
	if p, err := exec.LookPath("paplay"); err == nil {
		s.player = p
	}
	s.play = s.exec
	return s
}

func (s *SoundNotifier) Notify(ev Event) {
	file := s.file(ev.Kind)
	if file == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.play(ctx, file); err != nil {
			s.log.Debug("sound feedback failed", "file", file, "error", err)
		}
	}()
}

func (s *SoundNotifier) file(k Kind) string {
	switch k {
	case Started:
		return s.sounds.Start
	case Stopped:
		return s.sounds.Stop
	case Failed:
		return s.sounds.Error
	}
	return ""
}

func (s *SoundNotifier) exec(ctx context.Context, file string) error {
	if s.player == "" {
		return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
	}
	return exec.CommandContext(ctx, s.player, file).Run()
}
