// +build linux

// Package session drives the capture -> encode -> broadcast video pump as
// a single state machine: Probing opens and binds the V4L2 devices,
// Running pumps frames until the signal stalls, Recovering waits out a
// lost HDMI source, and Draining tears everything down on shutdown.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/openkvm-go/kvmd/internal/dmaheap"
	"github.com/openkvm-go/kvmd/internal/h264au"
	"github.com/openkvm-go/kvmd/internal/hub"
	"github.com/openkvm-go/kvmd/internal/logging"
	"github.com/openkvm-go/kvmd/internal/v4l2"
)

var log = logging.DefaultLogger.WithTag("session")

// State is one node of the supervisor's state machine.
type State int32

const (
	Probing State = iota
	Running
	Recovering
	Draining
	Fatal
)

func (s State) String() string {
	switch s {
	case Probing:
		return "probing"
	case Running:
		return "running"
	case Recovering:
		return "recovering"
	case Draining:
		return "draining"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

const (
	captureDequeueTimeoutMs = 2000
	maxConsecutiveTimeouts  = 3
	recoverSleep            = 2 * time.Second
	hdmiWaitTimeout         = 5 * time.Minute
)

// Config holds everything a Supervisor needs to open and drive one
// capture/encode session. New replaces zero or negative NumBuffers,
// NumCaptureBufs and GOPSize with defaults; Bitrate is passed to the
// encoder as given.
type Config struct {
	CaptureDevice string
	EncoderDevice string
	HeapPath      string // dma_heap device; "" selects dmaheap.DefaultHeap

	NumBuffers     int // DMA-BUFs shared between capture and encoder OUTPUT
	NumCaptureBufs int // encoder CAPTURE mmap slots
	Bitrate        int
	GOPSize        int

	Hub *hub.Hub

	// WaitForSignal blocks (up to timeout) until the capture device
	// reports a live format, returning false if it times out. Overridable
	// so tests can simulate hardware without touching /dev/video*.
	WaitForSignal func(timeout time.Duration) bool
}

// Status tracks counters the Supervisor updates as it runs, read by
// whatever logs or reports on-device health. There is no HTTP endpoint for
// this -- it exists purely so the supervisor's own stall-detection logging
// has numbers to report.
type Status struct {
	mu             sync.Mutex
	framesEncoded  uint64
	lastKeyframeAt time.Time
}

func (s *Status) recordFrame(au *h264au.AccessUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesEncoded++
	if au != nil && au.IsKeyframe {
		s.lastKeyframeAt = time.Now()
	}
}

// Snapshot reports the running totals. lastKeyframeAge is 0 if no keyframe
// has been observed yet.
func (s *Status) Snapshot() (framesEncoded uint64, lastKeyframeAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastKeyframeAt.IsZero() {
		return s.framesEncoded, 0
	}
	return s.framesEncoded, time.Since(s.lastKeyframeAt)
}

// Supervisor owns the session state machine. Run must only ever be called
// from one goroutine at a time -- it is the appliance's single video pump
// thread.
type Supervisor struct {
	cfg    Config
	status Status
	state  int32
}

// New builds a Supervisor, filling in defaults for unset tunables.
func New(cfg Config) *Supervisor {
	if cfg.NumBuffers <= 0 {
		cfg.NumBuffers = 4
	}
	if cfg.NumCaptureBufs <= 0 {
		cfg.NumCaptureBufs = 4
	}
	if cfg.GOPSize <= 0 {
		cfg.GOPSize = 3
	}
	if cfg.WaitForSignal == nil {
		cfg.WaitForSignal = defaultWaitForSignal(cfg.CaptureDevice)
	}
	return &Supervisor{cfg: cfg}
}

// State reports the supervisor's current state.
func (sv *Supervisor) State() State {
	return State(atomic.LoadInt32(&sv.state))
}

func (sv *Supervisor) setState(s State) {
	atomic.StoreInt32(&sv.state, int32(s))
	log.Info("state -> %s", s)
}

// Status returns the live counters; callers must not retain it past the
// Supervisor's lifetime assumptions (it is safe for concurrent reads).
func (sv *Supervisor) Status() *Status {
	return &sv.status
}

// Run drives the state machine until stopCh is closed. A failure during
// the very first Probing is fatal and returned to the caller; failures on
// any later attempt are handled by looping through Recovering instead.
func (sv *Supervisor) Run(stopCh <-chan struct{}) error {
	firstProbe := true

	for {
		select {
		case <-stopCh:
			sv.setState(Draining)
			return nil
		default:
		}

		sv.setState(Probing)
		sess, err := sv.probe()
		if err != nil {
			if firstProbe {
				sv.setState(Fatal)
				return errors.Wrap(err, "session: initial probe failed")
			}
			log.Warn("probe failed, will retry: %v", err)
			if !sv.recover(stopCh) {
				sv.setState(Draining)
				return nil
			}
			continue
		}
		firstProbe = false

		sv.setState(Running)
		shutdownRequested := sv.pump(sess, stopCh)
		sess.close()

		if shutdownRequested {
			sv.setState(Draining)
			return nil
		}

		if !sv.recover(stopCh) {
			sv.setState(Draining)
			return nil
		}
	}
}

// captureDevice and encoderDevice narrow *v4l2.Capture and *v4l2.Encoder to
// the methods pump actually calls, so tests can drive the pump loop
// against fakes instead of real V4L2 hardware.
type captureDevice interface {
	Dequeue(timeoutMs int) (index int, bytesUsed int, err error)
	Queue(index int) error
	Close() error
}

type encoderDevice interface {
	Encode(index int, bytesUsed int) (encoded []byte, reclaimedIndex int, reclaimed bool, err error)
	Close() error
}

type heapCloser interface {
	Close() error
}

// openSession is everything Probing assembled for one Running attempt.
type openSession struct {
	heap    heapCloser
	capture captureDevice
	encoder encoderDevice
}

func (s *openSession) close() {
	// Order matches the Draining contract: stop both queues and close
	// both devices before releasing the DMA-BUFs they were bound to.
	if err := s.capture.Close(); err != nil {
		log.Warn("closing capture device: %v", err)
	}
	if err := s.encoder.Close(); err != nil {
		log.Warn("closing encoder device: %v", err)
	}
	if err := s.heap.Close(); err != nil {
		log.Warn("releasing dma-bufs: %v", err)
	}
}

// probe opens the capture device just long enough to learn its negotiated
// format, allocates DMA-BUFs of that size, then brings up the encoder and
// finally the capture device bound to the same fds. Order between encoder
// and capture doesn't matter to the kernel -- both independently bind to
// the fds -- but encoder-first matches how the reference implementation
// does it.
func (sv *Supervisor) probe() (*openSession, error) {
	width, height, sizeImage, bpl, err := v4l2.ProbeFormat(sv.cfg.CaptureDevice, v4l2.PixFmtUYVY)
	if err != nil {
		return nil, errors.Wrap(err, "probe capture format")
	}

	heap, err := dmaheap.Open(sv.cfg.HeapPath)
	if err != nil {
		return nil, errors.Wrap(err, "open dma-buf heap")
	}

	bufs, err := heap.Alloc(sv.cfg.NumBuffers, int(sizeImage))
	if err != nil {
		heap.Close()
		return nil, errors.Wrap(err, "allocate dma-bufs")
	}
	fds := make([]int32, len(bufs))
	for i, b := range bufs {
		fds[i] = int32(b.FD)
	}

	encoder, err := v4l2.OpenEncoder(sv.cfg.EncoderDevice, v4l2.EncoderConfig{
		Width:          width,
		Height:         height,
		InputFourcc:    v4l2.PixFmtUYVY,
		InputSizeImage: sizeImage,
		InputBPL:       bpl,
		Bitrate:        sv.cfg.Bitrate,
		GOPSize:        sv.cfg.GOPSize,
	}, fds, sv.cfg.NumCaptureBufs)
	if err != nil {
		heap.Close()
		return nil, errors.Wrap(err, "open encoder")
	}

	capture, err := v4l2.OpenCapture(sv.cfg.CaptureDevice, v4l2.PixFmtUYVY, fds)
	if err != nil {
		encoder.Close()
		heap.Close()
		return nil, errors.Wrap(err, "open capture")
	}

	return &openSession{heap: heap, capture: capture, encoder: encoder}, nil
}

// pump runs the Running loop until the session stalls, fails, or stopCh
// closes. It reports whether the exit was due to a shutdown request (as
// opposed to a stall or error, which should lead to Recovering).
func (sv *Supervisor) pump(sess *openSession, stopCh <-chan struct{}) (shutdownRequested bool) {
	demux := h264au.New()
	consecutiveTimeouts := 0

	for {
		select {
		case <-stopCh:
			return true
		default:
		}

		index, bytesUsed, err := sess.capture.Dequeue(captureDequeueTimeoutMs)
		if err != nil {
			if v4l2.IsTimeout(err) {
				consecutiveTimeouts++
				if consecutiveTimeouts >= maxConsecutiveTimeouts {
					frames, keyframeAge := sv.status.Snapshot()
					log.Warn("capture stalled after %d consecutive dequeue timeouts (%d frames encoded, last keyframe %s ago)",
						consecutiveTimeouts, frames, keyframeAge)
					return false
				}
				continue
			}
			log.Warn("capture error, ending session: %v", err)
			return false
		}
		consecutiveTimeouts = 0

		encoded, reclaimedIndex, reclaimed, err := sess.encoder.Encode(index, bytesUsed)
		if err != nil {
			log.Warn("encode error, returning capture slot: %v", err)
			if qerr := sess.capture.Queue(index); qerr != nil {
				log.Warn("failed to return capture slot after encode error: %v", qerr)
			}
			if v4l2.IsTimeout(err) {
				log.Warn("encoder stalled, ending session")
				return false
			}
			continue
		}

		if reclaimed {
			if qerr := sess.capture.Queue(reclaimedIndex); qerr != nil {
				log.Warn("failed to requeue reclaimed capture slot: %v", qerr)
			}
		}

		sv.cfg.Hub.Broadcast(encoded)

		var au *h264au.AccessUnit
		if aus := demux.Push(encoded); len(aus) > 0 {
			au = &aus[len(aus)-1]
		}
		sv.status.recordFrame(au)
	}
}

// recover runs the Recovering state: a short settle sleep, then a wait for
// the HDMI source to come back, bounded so a permanently unplugged source
// doesn't spin the loop. It returns false only if stopCh closes during the
// wait, signaling the caller to stop instead of looping back to Probing.
func (sv *Supervisor) recover(stopCh <-chan struct{}) bool {
	sv.setState(Recovering)

	select {
	case <-time.After(recoverSleep):
	case <-stopCh:
		return false
	}

	signaled := make(chan bool, 1)
	go func() { signaled <- sv.cfg.WaitForSignal(hdmiWaitTimeout) }()

	select {
	case ok := <-signaled:
		if !ok {
			log.Warn("no HDMI signal after %s, probing anyway", hdmiWaitTimeout)
		}
	case <-stopCh:
		return false
	}
	return true
}

// defaultWaitForSignal polls the capture device's negotiated format; a
// driver reports a non-zero sizeimage once it has locked onto a live
// source, and zero while waiting for one.
func defaultWaitForSignal(device string) func(time.Duration) bool {
	return func(timeout time.Duration) bool {
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if _, _, sizeImage, _, err := v4l2.ProbeFormat(device, v4l2.PixFmtUYVY); err == nil && sizeImage > 0 {
				return true
			}
			time.Sleep(time.Second)
		}
		return false
	}
}
