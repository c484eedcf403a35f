// Package mic captures microphone input through PortAudio and serves it as
// audio.Frame windows.
package mic

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/hanrai/VoiceShow/internal/audio"
)

var _ audio.Source = (*Capture)(nil)

// Capture wraps a PortAudio input stream and exposes the most recent analysis
// window as a Frame.
type Capture struct {
	cfg        Config
	stream     *portaudio.Stream
	sampleRate float64
	device     *portaudio.DeviceInfo

	mu         sync.Mutex
	ring       *ring
	served     int
	lastWrite  time.Time
	generation uint64
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	// FrameSize is the number of mono samples handed out per Frame.
	FrameSize int
	Channels  int
}

// NewCapture opens and starts a PortAudio stream using the provided configuration.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	c := &Capture{cfg: cfg, ring: newRing(cfg.FrameSize)}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Capture) open() error {
	device, err := findDevice(c.cfg.DeviceName)
	if err != nil {
		return err
	}

	channels := c.cfg.Channels
	if device.MaxInputChannels > 0 && channels > device.MaxInputChannels {
		channels = device.MaxInputChannels
	}

	inParams := portaudio.StreamDeviceParameters{
		Device:   device,
		Channels: channels,
		Latency:  device.DefaultLowInputLatency,
	}

	framesPerBuffer := c.cfg.FrameSize / 4
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	process := func(in []float32) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.ring.writeInterleaved(in, channels)
		c.lastWrite = time.Now()
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input:           inParams,
		Output:          portaudio.StreamDeviceParameters{},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, process)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start stream: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.device = device
	c.sampleRate = device.DefaultSampleRate
	c.ring.reset()
	c.served = 0
	c.generation++
	c.mu.Unlock()
	return nil
}

// Restart closes the running stream and opens a fresh one on the same
// device query. The generation counter advances so downstream state resets.
func (c *Capture) Restart() error {
	if err := c.Close(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return c.open()
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	return stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// Generation returns how many times the stream has been (re)opened.
func (c *Capture) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Device returns the PortAudio device associated with the capture stream.
func (c *Capture) Device() *portaudio.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Frame copies the latest window out of the ring buffer. It reports false
// until the ring has been filled once after (re)start, and whenever no new
// samples arrived since the previous call.
func (c *Capture) Frame() (audio.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ring.full() || c.ring.written == c.served {
		return audio.Frame{}, false
	}
	c.served = c.ring.written
	return audio.Frame{
		Samples:    c.ring.snapshot(),
		SampleRate: c.sampleRate,
		Timestamp:  c.lastWrite,
	}, true
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	if host, err := portaudio.DefaultHostApi(); err == nil {
		if host != nil && host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	candidate := pickBestDevice(devices)
	if candidate != nil {
		return candidate, nil
	}

	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}

	return nil, fmt.Errorf("audio device %q not found", name)
}

// pickBestDevice prefers the default input and microphone-like names over
// loopback and monitor devices.
func pickBestDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}

	var results []scored
	preferred := []string{"mic", "microphone", "headset", "input"}
	loopback := []string{"monitor", "loopback", "stereo mix", "what u hear"}

	defaultInputIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInputIndex = def.Index
	}

	defaultHostIndex := -1
	if host, err := portaudio.DefaultHostApi(); err == nil && host != nil && host.DefaultInputDevice != nil {
		defaultHostIndex = host.DefaultInputDevice.Index
	}

	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}

		score := 0
		if d.Index == defaultInputIndex {
			score += 50
		}
		if d.Index == defaultHostIndex {
			score += 40
		}

		lower := strings.ToLower(d.Name)
		for _, kw := range preferred {
			if strings.Contains(lower, kw) {
				score += 20
				break
			}
		}
		for _, kw := range loopback {
			if strings.Contains(lower, kw) {
				score -= 30
				break
			}
		}
		if strings.Contains(lower, "default") {
			score += 10
		}

		results = append(results, scored{dev: d, score: score})
	}

	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})

	return results[0].dev
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}

// AutoDetectDevice returns the best available input device PortAudio can find.
func AutoDetectDevice() (*portaudio.DeviceInfo, error) {
	return findDevice("")
}
