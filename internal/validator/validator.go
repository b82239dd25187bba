package validator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/stratum/pkg/adapters/process"
)

// ValidateStrategies checks a strategy registry before a node starts serving it.
// Commands are resolved on PATH, or relative to baseDir when they contain a separator.
func ValidateStrategies(strategies map[string]process.StrategyConfig, baseDir string) error {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	var errors []string

	for _, name := range names {
		cfg := strategies[name]

		// Names end up in lock keys and URL paths.
		if strings.ContainsAny(name, "/ \t\n") {
			errors = append(errors, fmt.Sprintf("%q: name must not contain slashes or spaces", name))
		}
		if cfg.Timeout < 0 {
			errors = append(errors, fmt.Sprintf("%s: negative timeout", name))
		}
		if err := resolve(cfg.Command, baseDir); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", name, err))
		}
		for key := range cfg.Environment {
			if strings.HasPrefix(key, "STRATUM_") {
				errors = append(errors, fmt.Sprintf("%s: env %s is reserved", name, key))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(errors), strings.Join(errors, "\n- "))
	}

	return nil
}

func resolve(command, baseDir string) error {
	if !strings.ContainsRune(command, filepath.Separator) && !strings.Contains(command, "/") {
		if _, err := exec.LookPath(command); err != nil {
			return fmt.Errorf("command %q not found on PATH", command)
		}
		return nil
	}

	path := command
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("command %q not found", command)
	}
	if info.IsDir() {
		return fmt.Errorf("command %q is a directory", command)
	}
	return nil
}
