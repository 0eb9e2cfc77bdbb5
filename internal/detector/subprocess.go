package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/bhava/internal/capture"
	"github.com/ayusman/bhava/internal/raster"
)

// DefaultIdleTimeout is how long the helper process may sit unused before it
// is shut down.
const DefaultIdleTimeout = 30 * time.Second

// ErrScriptNotFound is returned when no estimator script can be located.
var ErrScriptNotFound = errors.New("emotion_service.py not found")

// SubprocessConfig configures a SubprocessEstimator.
type SubprocessConfig struct {
	// Command is the helper's argv. When empty, Script is run with the
	// virtualenv Python interpreter if one is found.
	Command []string

	// Script is the helper script path. When empty, emotion_service.py is
	// looked up in the usual locations.
	Script string

	// Env is appended to the current environment of the helper.
	Env []string

	// IdleTimeout shuts the helper down after this long without a request
	// (default: 30s). It is restarted on the next call.
	IdleTimeout time.Duration
}

// SubprocessEstimator implements Estimator using a long-lived helper process.
// Each request is a 4-byte big-endian length followed by a JPEG frame on the
// helper's stdin; each response is one JSON line {"probabilities":[...]}.
type SubprocessEstimator struct {
	config    SubprocessConfig
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewSubprocessEstimator creates a new subprocess estimator.
// The helper process is started by Init or lazily on first estimate.
func NewSubprocessEstimator(config SubprocessConfig) (*SubprocessEstimator, error) {
	if len(config.Command) == 0 {
		scriptPath := config.Script
		if scriptPath == "" {
			scriptPath = findEstimatorScript()
		}
		if scriptPath == "" {
			return nil, ErrScriptNotFound
		}
		if _, err := os.Stat(scriptPath); err != nil {
			return nil, fmt.Errorf("estimator script: %w", err)
		}
		pythonPath := findVenvPython()
		if pythonPath == "" {
			pythonPath = "python3"
		}
		config.Command = []string{pythonPath, scriptPath}
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}

	return &SubprocessEstimator{
		config: config,
	}, nil
}

// Init starts the helper process.
func (e *SubprocessEstimator) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return err
	}
	e.resetIdleTimer()
	return nil
}

// Estimate sends frame to the helper and returns its class probabilities.
// If ctx is canceled while the helper is busy, the helper is killed and
// ctx.Err() is returned; the next call starts a fresh helper.
func (e *SubprocessEstimator) Estimate(ctx context.Context, frame *raster.Frame) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := capture.ToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	// The exchange may outlive this call, so it gets its own copy
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return nil, err
	}

	replies := make(chan reply, 1)
	go func(stdin io.Writer, stdout *bufio.Reader) {
		line, err := exchange(stdin, stdout, data)
		replies <- reply{line: line, err: err}
	}(e.stdin, e.stdout)

	var r reply
	select {
	case <-ctx.Done():
		e.kill()
		return nil, ctx.Err()
	case r = <-replies:
	}
	if r.err != nil {
		e.shutdown()
		return nil, r.err
	}

	var response struct {
		Probabilities []float64 `json:"probabilities"`
		Error         string    `json:"error"`
	}
	if err := json.Unmarshal([]byte(r.line), &response); err != nil {
		// A partial reply leaves the stream out of step with requests
		e.kill()
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("estimator: %s", response.Error)
	}

	e.lastUsed = time.Now()
	e.resetIdleTimer()

	return response.Probabilities, nil
}

type reply struct {
	line string
	err  error
}

// exchange writes one length-prefixed frame and reads one response line.
func exchange(stdin io.Writer, stdout *bufio.Reader, data []byte) (string, error) {
	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := stdin.Write(length); err != nil {
		return "", fmt.Errorf("write length: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		return "", fmt.Errorf("write data: %w", err)
	}

	line, err := stdout.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

// Running reports whether the helper process is up.
func (e *SubprocessEstimator) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Close shuts down the helper process.
func (e *SubprocessEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *SubprocessEstimator) ensureStarted() error {
	if e.started {
		return nil
	}

	e.cmd = exec.Command(e.config.Command[0], e.config.Command[1:]...)
	if len(e.config.Env) > 0 {
		e.cmd.Env = append(os.Environ(), e.config.Env...)
	}

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start estimator service: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	e.started = true
	e.lastUsed = time.Now()

	return nil
}

func (e *SubprocessEstimator) shutdown() error {
	if !e.started {
		return nil
	}

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}

	err := e.cmd.Wait()
	e.started = false
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil

	return err
}

// kill terminates a helper that cannot be trusted to exit on EOF.
func (e *SubprocessEstimator) kill() {
	if !e.started {
		return
	}
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	if err := e.shutdown(); err != nil {
		Logf("detector: estimator killed: %v", err)
	}
}

func (e *SubprocessEstimator) resetIdleTimer() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.config.IdleTimeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.shutdown(); err != nil {
			Logf("detector: idle shutdown of estimator: %v", err)
		}
	})
}

func findEstimatorScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/emotion_service.py",
		"../scripts/emotion_service.py",
		filepath.Join(execDir, "scripts/emotion_service.py"),
		filepath.Join(os.Getenv("HOME"), ".bhava/scripts/emotion_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".bhava/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
