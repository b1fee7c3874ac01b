package migrator

import (
	"cmp"
	"slices"
	"sync"

	im "gomigrator/internal/migrator"
)

var (
	goMu    sync.Mutex
	goSteps = map[int64]im.GoStep{}
)

// Register records a Go migration <version>_<name>. It is meant to be called
// from init functions of a migrations package linked into the binary.
func Register(version int64, name string, up, down GoFunc) error {
	step := im.GoStep{Version: version, Name: name, Up: up, Down: down}
	if err := im.Validate(step.Migration(nil)); err != nil {
		return err
	}
	goMu.Lock()
	defer goMu.Unlock()
	if existing, ok := goSteps[version]; ok {
		return &im.DuplicateVersionError{Version: version, Existing: existing.Name, New: name}
	}
	goSteps[version] = step
	return nil
}

func registeredGoSteps() []im.GoStep {
	goMu.Lock()
	defer goMu.Unlock()
	out := make([]im.GoStep, 0, len(goSteps))
	for _, s := range goSteps {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b im.GoStep) int { return cmp.Compare(a.Version, b.Version) })
	return out
}
