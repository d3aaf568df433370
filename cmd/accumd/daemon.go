package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
)

// daemonEnv marks the re-executed child so it does not fork again.
const daemonEnv = "ACCUMD_DAEMONIZED"

// runningAsDaemonChild reports whether this process is the detached child.
func runningAsDaemonChild() bool {
	return os.Getenv(daemonEnv) == "1"
}

// daemonize re-executes the binary detached from the controlling terminal,
// handing it the already-bound listener as fd 3. Binding happens before the
// split, so bind errors still surface to the invoking shell. The parent
// returns nil and should exit 0.
func daemonize(ln net.Listener) error {
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("daemonize: listener is %T, not TCP", ln)
	}
	f, err := tcpLn.File()
	if err != nil {
		return fmt.Errorf("daemonize: dup listener: %w", err)
	}
	defer f.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: resolve executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.ExtraFiles = []*os.File{f} // becomes fd 3 in the child
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemonize: start child: %w", err)
	}
	return nil
}

// inheritedListener adopts the listener the parent handed down as fd 3.
func inheritedListener() (net.Listener, error) {
	f := os.NewFile(3, "accumd-listener")
	if f == nil {
		return nil, fmt.Errorf("daemonize: inherited listener fd missing")
	}
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("daemonize: adopt listener: %w", err)
	}
	return ln, nil
}
