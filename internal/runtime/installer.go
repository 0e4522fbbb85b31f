package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// Installer provisions an external model package in the runtime host's
// Python environment before first use. Installation is idempotent per
// process: each package spec is installed at most once, and a failed
// install stays failed for the lifetime of the process.
//
// Provisioning is explicit and injectable; forecaster constructors never
// install packages as a side effect.
type Installer struct {
	python string

	mu      sync.Mutex
	results map[string]error
}

// NewInstaller creates an installer that shells out to the given Python
// interpreter ("python3" when empty).
func NewInstaller(python string) *Installer {
	if python == "" {
		python = "python3"
	}
	return &Installer{
		python:  python,
		results: make(map[string]error),
	}
}

// Install runs `<python> -m pip install <pkg> --quiet` synchronously.
// A non-zero installer exit is fatal for the caller: the forecaster cannot
// proceed without the dependency, so there is no retry and no fallback.
func (in *Installer) Install(ctx context.Context, pkg string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err, done := in.results[pkg]; done {
		if err != nil {
			return fmt.Errorf("install of %s previously failed: %w", pkg, err)
		}
		return nil
	}

	cmd := exec.CommandContext(ctx, in.python, "-m", "pip", "install", pkg, "--quiet")
	err := cmd.Run()
	in.results[pkg] = err

	if err != nil {
		return fmt.Errorf("pip install %s failed: %w", pkg, err)
	}
	return nil
}
