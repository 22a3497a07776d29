//go:build linux

package input

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dictd/internal/logging"
)

const hotplugSettle = 100 * time.Millisecond

// Options configures a Source.
type Options struct {
	// Devices lists explicit evdev paths. Empty means auto-discover.
	Devices []string
	// Hotplug watches /dev/input for new keyboards.
	Hotplug bool
	Logger  *logging.Logger
}

type deviceMsg struct {
	events []KeyEvent
	gone   string
}

// Source merges all keyboards into one event stream.
type Source struct {
	log     *logging.Logger
	events  chan KeyEvent
	raw     chan deviceMsg
	done    chan struct{}
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	devices map[string]*os.File

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open opens every keyboard and starts streaming. It returns an error
// wrapping ErrDeviceUnavailable when no keyboard could be opened.
func Open(opts Options) (*Source, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	s := &Source{
		log:     log.WithComponent("input"),
		events:  make(chan KeyEvent, 64),
		raw:     make(chan deviceMsg, 64),
		done:    make(chan struct{}),
		devices: make(map[string]*os.File),
	}

	paths := opts.Devices
	if len(paths) == 0 {
		found, err := ListDevices()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		for _, d := range keyboards(found) {
			paths = append(paths, d.Path)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no keyboard devices found", ErrDeviceUnavailable)
	}

	var errs []error
	for _, p := range paths {
		if err := s.add(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(s.devices) == 0 {
		return nil, fmt.Errorf("%w: cannot read keyboard devices (add your user to the 'input' group or run as root): %v",
			ErrDeviceUnavailable, errors.Join(errs...))
	}
	for _, err := range errs {
		s.log.Warn("skipping keyboard", "error", err)
	}

	if opts.Hotplug {
		if err := s.watch(); err != nil {
			s.log.Warn("hotplug disabled", "error", err)
		}
	}

	s.wg.Add(1)
	go s.merge()
	return s, nil
}

// Events returns the merged stream. It is closed after Close.
func (s *Source) Events() <-chan KeyEvent {
	return s.events
}

// Devices returns the paths currently being read.
func (s *Source) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.devices))
	for p := range s.devices {
		out = append(out, p)
	}
	return out
}

func (s *Source) add(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[path]; ok {
		return nil
	}
	f, err := openDevice(path)
	if err != nil {
		return err
	}
	s.devices[path] = f
	s.log.Info("keyboard opened", "path", path, "name", deviceName(f))

	s.wg.Add(1)
	go s.read(path, f)
	return nil
}

func (s *Source) read(path string, f *os.File) {
	defer s.wg.Done()

	buf := make([]byte, rawEventSize*64)
	for {
		n, err := f.Read(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("keyboard lost", "path", path, "error", err)
				s.mu.Lock()
				delete(s.devices, path)
				s.mu.Unlock()
				f.Close()
				s.send(deviceMsg{gone: path})
			}
			return
		}
		if evs := decodeEvents(buf[:n], path); len(evs) > 0 {
			s.send(deviceMsg{events: evs})
		}
	}
}

func (s *Source) send(m deviceMsg) {
	select {
	case s.raw <- m:
	case <-s.done:
	}
}

func (s *Source) merge() {
	defer s.wg.Done()

	c := newCoalescer()
	for {
		select {
		case <-s.done:
			return
		case m := <-s.raw:
			var out []KeyEvent
			if m.gone != "" {
				out = c.drop(m.gone, time.Now())
			}
			for _, ev := range m.events {
				if merged, ok := c.apply(ev); ok {
					out = append(out, merged)
				}
			}
			for _, ev := range out {
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		}
	}
}

func (s *Source) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add("/dev/input"); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) || !strings.HasPrefix(filepath.Base(ev.Name), "event") {
					continue
				}
				// udev needs a moment to apply permissions.
				select {
				case <-time.After(hotplugSettle):
				case <-s.done:
					return
				}
				s.hotplug(ev.Name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("hotplug watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *Source) hotplug(path string) {
	f, err := openDevice(path)
	if err != nil {
		s.log.Debug("ignoring new input node", "path", path, "error", err)
		return
	}
	kbd := isKeyboard(f)
	f.Close()
	if !kbd {
		return
	}
	if err := s.add(path); err != nil {
		s.log.Warn("cannot open hotplugged keyboard", "path", path, "error", err)
	}
}

// Close stops all readers and closes the event stream.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
		s.mu.Lock()
		for p, f := range s.devices {
			f.Close()
			delete(s.devices, p)
		}
		s.mu.Unlock()
		s.wg.Wait()
		close(s.events)
	})
	return nil
}
