package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"sfvip-launcher/work/logger"
)

// ErrPlayerNotFound means no player binary could be located.
var ErrPlayerNotFound = errors.New("supervisor: player not found")

// Player is the running media player process.
type Player struct {
	cmd *exec.Cmd
}

// launchPlayer locates the player binary and starts it.
func (s *Supervisor) launchPlayer() (*Player, error) {
	path, err := findPlayer(s.cfg.PlayerPath)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	if err := cmd.Start(); err != nil {
		return nil, ErrPlayerNotFound
	}
	logger.Info("supervisor: player started, pid %d", cmd.Process.Pid)
	return &Player{cmd: cmd}, nil
}

// findPlayer resolves the configured path or falls back to the conventional
// install locations.
func findPlayer(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured, nil
		}
		return "", ErrPlayerNotFound
	}
	for _, candidate := range conventionalPlayerPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrPlayerNotFound
}

func conventionalPlayerPaths() []string {
	var paths []string
	if runtime.GOOS == "windows" {
		for _, env := range []string{"PROGRAMFILES", "PROGRAMFILES(X86)", "LOCALAPPDATA"} {
			if base := os.Getenv(env); base != "" {
				paths = append(paths, filepath.Join(base, "SFVIP Player", "sfvip player.exe"))
			}
		}
		return paths
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "bin", "sfvip-player"))
	}
	paths = append(paths, "/usr/local/bin/sfvip-player", "/usr/bin/sfvip-player")
	return paths
}

// Wait blocks until the player exits.
func (p *Player) Wait() {
	p.cmd.Wait()
}

// Terminate stops the player, ending the cycle.
func (p *Player) Terminate() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}
