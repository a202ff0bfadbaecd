package keeper

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

// Launcher starts a service instance for profile listening on port.
type Launcher interface {
	Launch(profile string, port int) (pid int32, err error)
}

// ExecLauncher starts instances as child processes of Binary. Output goes to
// "<LogDir>/<profile>-<unix nanos>.log".
type ExecLauncher struct {
	Binary string
	// Args builds the command line; DefaultArgs when nil.
	Args   func(profile string, port int) []string
	LogDir string
	Log    loggingpkg.ServiceLogger
}

// DefaultArgs runs the registry server with the given profile and port.
func DefaultArgs(profile string, port int) []string {
	return []string{"server", "--profile", profile, "--port", strconv.Itoa(port)}
}

func (l *ExecLauncher) Launch(profile string, port int) (int32, error) {
	if l.Binary == "" {
		return 0, fmt.Errorf("keeper: no launch binary configured")
	}
	args := l.Args
	if args == nil {
		args = DefaultArgs
	}
	dir := l.LogDir
	if dir == "" {
		dir = os.TempDir()
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s-%d.log", profile, time.Now().UnixNano()))
	out, err := os.Create(logPath)
	if err != nil {
		return 0, fmt.Errorf("create launch log: %w", err)
	}

	cmd := exec.Command(l.Binary, args(profile, port)...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("start %s: %w", l.Binary, err)
	}
	if l.Log != nil {
		l.Log.Info("Launched instance", loggingpkg.LogFields{
			"profile": profile,
			"port":    port,
			"pid":     cmd.Process.Pid,
			"log":     logPath,
		})
	}

	go func() {
		_ = cmd.Wait()
		_ = out.Close()
	}()
	return int32(cmd.Process.Pid), nil
}
