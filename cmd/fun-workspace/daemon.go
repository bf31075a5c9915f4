package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// childArgs drops the daemon flags (both "--flag value" and "--flag=value"
// forms) and re-adds --pidfile so the child removes it on exit.
func childArgs(args []string, pidFile string) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, _, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--daemonize":
			continue
		case "--pidfile", "--logfile":
			if !hasValue {
				i++
			}
			continue
		}
		out = append(out, arg)
	}
	if pidFile != "" {
		out = append(out, "--pidfile", pidFile)
	}
	return out
}

// daemonize re-executes the binary detached from the terminal and exits the
// parent.
func daemonize(pidFile string, logFile string) error {
	if pid, alive := runningPid(pidFile); alive {
		return fmt.Errorf("daemon already running with PID %d (%s)", pid, pidFile)
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204
	cmd := exec.Command(executable, childArgs(os.Args[1:], pidFile)...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G304
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	if pidFile != "" {
		if err := writePidFile(pidFile, cmd.Process.Pid); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}

	fmt.Printf("fun-workspace daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// runningPid reports the PID recorded in pidFile if that process is alive.
func runningPid(pidFile string) (int, bool) {
	pid, err := readPidFile(pidFile)
	if err != nil {
		return 0, false
	}
	alive, err := process.PidExists(int32(pid))
	return pid, err == nil && alive
}

func readPidFile(pidFile string) (int, error) {
	if pidFile == "" {
		return 0, errors.New("no pid file")
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", pidFile)
	}
	return pid, nil
}

func writePidFile(pidFile string, pid int) error {
	// #nosec G302
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
