// Package runtime wires the forkrace detector runtime into instrumented
// programs.
//
// An instrumented build happens in a scratch directory holding the
// rewritten sources; that module must be able to resolve the
// github.com/kolkov/forkrace runtime. When the tool runs from a source
// checkout, the scratch go.mod gets a replace directive pointing at the
// checkout; replace directives of the target's own go.mod are carried
// over (with relative paths made absolute, since the scratch directory
// lives elsewhere).
package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// RuntimePackagePath is the import path instrumented code uses to reach
// the detector hooks.
const RuntimePackagePath = "github.com/kolkov/forkrace/race"

// modulePath is the runtime's module, the unit the overlay requires and
// replaces.
const modulePath = "github.com/kolkov/forkrace"

// RuntimeInitCode returns the statements injected at the top of the
// instrumented main function.
func RuntimeInitCode() string {
	return "race.Init()\ndefer race.Fini()"
}

// Overlay writes a go.mod into scratchDir for an instrumented build of
// the module containing targetDir, and returns its path.
//
// The generated module requires the forkrace runtime. In development
// (running from a checkout) the requirement is satisfied with a local
// replace; otherwise the published module is used as-is. Replace
// directives from the target's go.mod are preserved so its other
// dependencies keep resolving.
func Overlay(scratchDir, targetDir string) (string, error) {
	f := &modfile.File{}
	if err := f.AddModuleStmt("instrumented"); err != nil {
		return "", fmt.Errorf("runtime: building overlay: %w", err)
	}
	if err := f.AddGoStmt("1.24.0"); err != nil {
		return "", fmt.Errorf("runtime: building overlay: %w", err)
	}
	if err := f.AddRequire(modulePath, "v0.0.0"); err != nil {
		return "", fmt.Errorf("runtime: building overlay: %w", err)
	}

	if root, ok := findCheckoutRoot(); ok {
		if err := f.AddReplace(modulePath, "", root, ""); err != nil {
			return "", fmt.Errorf("runtime: building overlay: %w", err)
		}
	}

	if targetDir != "" {
		if modPath := findTargetGoMod(targetDir); modPath != "" {
			if err := carryReplaceDirectives(f, modPath); err != nil {
				return "", err
			}
		}
	}

	data, err := f.Format()
	if err != nil {
		return "", fmt.Errorf("runtime: formatting overlay: %w", err)
	}
	overlayPath := filepath.Join(scratchDir, "go.mod")
	if err := os.WriteFile(overlayPath, data, 0o644); err != nil {
		return "", fmt.Errorf("runtime: writing overlay: %w", err)
	}
	return overlayPath, nil
}

// findCheckoutRoot walks up from the working directory looking for the
// runtime's source checkout. The marker is our own engine package —
// checking for a bare go.mod would match the user's project instead.
func findCheckoutRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		marker := filepath.Join(dir, "internal", "race", "engine")
		if fi, err := os.Stat(marker); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// findTargetGoMod walks up from dir to the go.mod of the module being
// instrumented. Returns "" when the target is not in a module.
func findTargetGoMod(dir string) string {
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// carryReplaceDirectives copies the replace directives of the go.mod at
// modPath into f, converting filesystem paths to absolute ones.
func carryReplaceDirectives(f *modfile.File, modPath string) error {
	data, err := os.ReadFile(modPath)
	if err != nil {
		return fmt.Errorf("runtime: reading target go.mod: %w", err)
	}
	target, err := modfile.Parse(modPath, data, nil)
	if err != nil {
		return fmt.Errorf("runtime: parsing target go.mod: %w", err)
	}

	modDir := filepath.Dir(modPath)
	for _, rep := range target.Replace {
		newPath := rep.New.Path
		// A replacement without a version is a filesystem path; anchor
		// it to the target module's directory.
		if rep.New.Version == "" && !filepath.IsAbs(newPath) {
			abs, err := filepath.Abs(filepath.Join(modDir, newPath))
			if err == nil {
				newPath = abs
			}
		}
		if err := f.AddReplace(rep.Old.Path, rep.Old.Version, newPath, rep.New.Version); err != nil {
			return fmt.Errorf("runtime: carrying replace %s: %w", rep.Old.Path, err)
		}
	}
	return nil
}
