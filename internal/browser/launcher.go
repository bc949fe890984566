package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"aistudio2api-go/internal/credstore"
	log "github.com/sirupsen/logrus"
)

// readyTimeout bounds how long SwitchTo waits for the relay to come up after
// the browser process starts.
const readyTimeout = 120 * time.Second

// Connectivity is the slice of the relay channel the launcher needs.
type Connectivity interface {
	IsConnected() bool
}

// Launcher implements Session by spawning the camoufox browser with a
// credential bundle and waiting for the in-page relay to connect back.
// When no executable is configured it degrades to waiting for an externally
// managed browser.
type Launcher struct {
	store      credstore.Store
	relay      Connectivity
	executable string
	wsPort     int

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewLauncher builds a launcher around the credential store and relay link.
func NewLauncher(store credstore.Store, relay Connectivity, executable string, wsPort int) *Launcher {
	return &Launcher{
		store:      store,
		relay:      relay,
		executable: executable,
		wsPort:     wsPort,
	}
}

// SwitchTo loads bundle index into a fresh browser context and blocks until
// the relay reports connected. The previous context is closed first; exactly
// one browser session is live at a time.
func (l *Launcher) SwitchTo(ctx context.Context, index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bundle, err := l.store.Load(index)
	if err != nil {
		return fmt.Errorf("switch to credential %d: %w", index, err)
	}

	l.stopLocked()

	if l.executable != "" {
		bundlePath, err := writeBundleFile(index, bundle)
		if err != nil {
			return fmt.Errorf("switch to credential %d: %w", index, err)
		}

		cmd := exec.Command(l.executable,
			"--storage-state", bundlePath,
			"--relay-endpoint", fmt.Sprintf("ws://127.0.0.1:%d/", l.wsPort),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start browser for credential %d: %w", index, err)
		}
		l.cmd = cmd
		log.Infof("Browser started for credential %d (pid %d)", index, cmd.Process.Pid)
	} else {
		log.Infof("No browser executable configured; waiting for external relay for credential %d", index)
	}

	if err := l.awaitRelay(ctx); err != nil {
		l.stopLocked()
		return fmt.Errorf("credential %d never reached relay-ready state: %w", index, err)
	}
	return nil
}

func (l *Launcher) awaitRelay(ctx context.Context) error {
	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		if l.relay.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", readyTimeout)
		case <-tick.C:
		}
	}
}

func (l *Launcher) stopLocked() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	if err := l.cmd.Process.Kill(); err != nil {
		log.WithError(err).Debug("Failed to kill previous browser process")
	}
	_, _ = l.cmd.Process.Wait()
	l.cmd = nil
}

// Close tears down the running browser, if any.
func (l *Launcher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func writeBundleFile(index int, bundle []byte) (string, error) {
	dir := filepath.Join(os.TempDir(), "aistudio2api")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("bundle-%d.json", index))
	if err := os.WriteFile(path, bundle, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
