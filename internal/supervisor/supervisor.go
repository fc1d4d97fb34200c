// Package supervisor owns the lifecycle of the external simulator bridge
// process: spawn, liveness, stdin commands, and the stdout/stderr/exit
// stream wiring.
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/sumo-bridge/internal/metrics"
	"github.com/ukydev/sumo-bridge/internal/protocol"
)

// RLOptions requests reinforcement-learning signal control for a run.
type RLOptions struct {
	ModelPath        string
	DecisionInterval int
}

// Descriptor describes one simulator run to spawn.
type Descriptor struct {
	ConfigPath string
	GUI        bool
	StepLength float64
	RL         *RLOptions
}

// ExitClass classifies how the simulator process ended.
type ExitClass string

const (
	// ExitStopped is a signaled termination, normally operator-initiated.
	ExitStopped ExitClass = "stopped"
	// ExitCompleted is a zero exit with no signal: the scenario ran to its
	// natural end.
	ExitCompleted ExitClass = "completed"
	// ExitError is a nonzero exit with no signal.
	ExitError ExitClass = "error"
)

// Config configures a Supervisor.
type Config struct {
	// BridgeCommand is the bridge executable that speaks the stdio
	// protocol and drives the simulator.
	BridgeCommand string
	// SumoBinary overrides the simulator binary. An absolute path is used
	// as-is; a bare name goes through the usual resolution.
	SumoBinary string
	// SumoHome is the simulator installation directory; its bin/
	// subdirectory is searched when resolving a bare binary name.
	SumoHome string
	// KillGrace is how long to wait after force-terminating an orphaned
	// handle before spawning again.
	KillGrace time.Duration

	// OnFrame receives every decoded stdout frame, in strict arrival
	// order for a given process generation.
	OnFrame func(protocol.Frame)
	// OnStderr receives raw stderr lines. fatal marks lines matching a
	// known fatal pattern, such as simulator runtime memory exhaustion.
	OnStderr func(line string, fatal bool)
	// OnExit receives the classified exit of the supervised process.
	OnExit func(class ExitClass)
}

// fatalStderrPatterns are substrings of simulator runtime diagnostics that
// indicate the run is beyond saving. A match is a soft failure of the
// simulation feature only: the supervising service keeps serving.
var fatalStderrPatterns = []string{
	"MemoryError",
	"OutOfMemoryError",
	"std::bad_alloc",
	"Cannot allocate memory",
}

// handle is the in-memory record of one live process generation. It exists
// from a successful spawn until exit or kill.
type handle struct {
	cmd     *exec.Cmd
	pid     int
	stdin   io.WriteCloser
	writeMu sync.Mutex
	codec   *protocol.Codec
	exited  atomic.Bool
	gen     uint64
}

// Supervisor supervises at most one live simulator process. A second spawn
// while one is live force-terminates the stale handle first, which keeps
// the single-live-process invariant without a distributed lock: only one
// host process performs supervision.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	handle  *handle
	lastGen uint64
}

// New returns a Supervisor with no live handle.
func New(cfg Config) *Supervisor {
	if cfg.BridgeCommand == "" {
		cfg.BridgeCommand = "sumo-bridge"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 500 * time.Millisecond
	}
	return &Supervisor{cfg: cfg}
}

// IsLive reports whether a not-yet-exited handle is present.
func (s *Supervisor) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && !s.handle.exited.Load()
}

// PID returns the live process id, if any.
func (s *Supervisor) PID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.exited.Load() {
		return 0, false
	}
	return s.handle.pid, true
}

// Spawn validates the descriptor, terminates any orphaned handle, starts
// the bridge process, and wires its three streams. It returns the new
// process id.
func (s *Supervisor) Spawn(desc Descriptor) (int, error) {
	if _, err := os.Stat(desc.ConfigPath); err != nil {
		metrics.ProcessSpawns.WithLabelValues("config_not_found").Inc()
		return 0, fmt.Errorf("%w: %s", ErrConfigNotFound, desc.ConfigPath)
	}
	if desc.RL != nil {
		if _, err := os.Stat(desc.RL.ModelPath); err != nil {
			metrics.ProcessSpawns.WithLabelValues("model_not_found").Inc()
			return 0, fmt.Errorf("%w: %s", ErrModelNotFound, desc.RL.ModelPath)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Orphan handling: a prior exit callback may have been lost across a
	// host restart. Force-terminate and give the OS a moment to reap.
	if s.handle != nil && !s.handle.exited.Load() {
		log.WithField("pid", s.handle.pid).Warn("Terminating orphaned simulator process before spawn")
		_ = s.handle.cmd.Process.Kill()
		s.handle = nil
		time.Sleep(s.cfg.KillGrace)
	}

	sumoBin := s.resolveBinary(desc.GUI)
	args := []string{
		"--sumo-bin", sumoBin,
		"--sumo-cfg", desc.ConfigPath,
		"--step-length", fmt.Sprintf("%g", desc.StepLength),
	}
	if desc.RL != nil {
		args = append(args, "--rl-model", desc.RL.ModelPath)
		if desc.RL.DecisionInterval > 0 {
			args = append(args, "--rl-delta", fmt.Sprintf("%d", desc.RL.DecisionInterval))
		}
		if desc.GUI {
			args = append(args, "--rl-use-gui")
		}
	}

	cmd := exec.Command(s.cfg.BridgeCommand, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		metrics.ProcessSpawns.WithLabelValues("spawn_error").Inc()
		return 0, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	s.lastGen++
	h := &handle{
		cmd:   cmd,
		pid:   cmd.Process.Pid,
		stdin: stdin,
		codec: protocol.NewCodec(),
		gen:   s.lastGen,
	}
	s.handle = h

	go s.readStdout(h, stdout)
	go s.readStderr(h, stderr)
	go s.wait(h)

	metrics.ProcessSpawns.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{
		"pid":    h.pid,
		"config": desc.ConfigPath,
		"binary": sumoBin,
		"rl":     desc.RL != nil,
	}).Info("Simulator bridge spawned")

	return h.pid, nil
}

// resolveBinary applies the binary resolution precedence: explicit absolute
// path, then the conventional bin subdirectory under the simulator home,
// then the environment's executable search path.
func (s *Supervisor) resolveBinary(gui bool) string {
	name := "sumo"
	if gui {
		name = "sumo-gui"
	}
	if s.cfg.SumoBinary != "" {
		name = s.cfg.SumoBinary
	}
	if filepath.IsAbs(name) {
		return name
	}
	if s.cfg.SumoHome != "" {
		candidate := filepath.Join(s.cfg.SumoHome, "bin", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if resolved, err := exec.LookPath(name); err == nil {
		return resolved
	}
	return name
}

// Send writes one command line to the live process's stdin. Writes are
// serialized, so command order on the wire matches call order. There is no
// acknowledgment: the write succeeding is all a caller can know.
func (s *Supervisor) Send(line []byte) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil || h.exited.Load() {
		return ErrNoProcess
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.stdin.Write(line); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	metrics.CommandsSent.Inc()
	return nil
}

// Signal delivers sig to the live process without releasing the handle.
// Used for pause (SIGSTOP) and resume (SIGCONT).
func (s *Supervisor) Signal(sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.exited.Load() {
		return ErrNoProcess
	}
	return s.handle.cmd.Process.Signal(sig)
}

// Kill sends sig and clears the handle immediately without waiting for
// OS-level exit confirmation; the wait goroutine still reaps the process.
// A subsequent Spawn re-checks liveness itself, so a still-draining process
// cannot coexist with a new one.
//
// The process is woken with SIGCONT first: a termination signal stays
// pending on a SIGSTOPped process and never acts, which would leak a
// suspended simulator past the cleared handle.
func (s *Supervisor) Kill(sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ErrNoProcess
	}
	_ = s.handle.cmd.Process.Signal(syscall.SIGCONT)
	err := s.handle.cmd.Process.Signal(sig)
	log.WithFields(log.Fields{"pid": s.handle.pid, "signal": sig}).Info("Simulator bridge signaled for termination")
	s.handle = nil
	return err
}

// readStdout feeds raw chunks through the handle's codec and hands decoded
// frames to the frame callback. One goroutine per generation keeps frame
// order identical to arrival order.
func (s *Supervisor) readStdout(h *handle, r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, frame := range h.codec.Feed(buf[:n]) {
				if s.cfg.OnFrame != nil {
					s.cfg.OnFrame(frame)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).WithField("pid", h.pid).Debug("Simulator stdout closed")
			}
			return
		}
	}
}

// readStderr scans diagnostic lines and classifies known fatal patterns.
// A match degrades the simulation feature, nothing else: it is logged with
// a remediation hint and surfaced to the callback as fatal, but the
// supervising process keeps running.
func (s *Supervisor) readStderr(h *handle, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fatal := isFatalStderr(line)
		if fatal {
			log.WithFields(log.Fields{
				"pid":  h.pid,
				"line": line,
			}).Warn("Simulator runtime memory exhaustion; reduce the scenario size or raise the host memory limit")
		} else {
			log.WithField("pid", h.pid).Debug(line)
		}
		if s.cfg.OnStderr != nil {
			s.cfg.OnStderr(line, fatal)
		}
	}
}

// isFatalStderr reports whether the line matches a known fatal pattern.
func isFatalStderr(line string) bool {
	for _, p := range fatalStderrPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// wait reaps the process, classifies its exit, releases the handle if it is
// still the current generation, and notifies the exit callback.
func (s *Supervisor) wait(h *handle) {
	err := h.cmd.Wait()
	h.exited.Store(true)

	class := classifyExit(err)

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"pid":   h.pid,
		"class": class,
	}).Info("Simulator bridge exited")

	if s.cfg.OnExit != nil {
		s.cfg.OnExit(class)
	}
}

// classifyExit maps a Wait error to an exit class: signaled termination is
// stopped, clean exit is completed, anything else is error.
func classifyExit(err error) ExitClass {
	if err == nil {
		return ExitCompleted
	}
	if ee, ok := err.(*exec.ExitError); ok {
		if status, ok := ee.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return ExitStopped
		}
	}
	return ExitError
}
