// Package gate is the pre-flight readiness check the live loop consults
// before it starts trading.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Status is the readiness signal.
type Status struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason"`
}

type Gate interface {
	Check(ctx context.Context) (Status, error)
}

// Config selects the gate. Without a file the gate is always open.
type Config struct {
	Enforce bool   `yaml:"enforce" mapstructure:"enforce"`
	File    string `yaml:"file" mapstructure:"file"`
}

// New returns a FileGate when cfg names a file and an open Static gate
// otherwise.
func New(cfg Config) Gate {
	if cfg.File == "" {
		return Static{Ready: true, Reason: "no gate configured"}
	}
	return FileGate{Path: cfg.File}
}

// Static always reports the same status.
type Static Status

func (s Static) Check(context.Context) (Status, error) {
	return Status(s), nil
}

// FileGate reads a JSON status written by the QA runner.
type FileGate struct {
	Path string
}

func (g FileGate) Check(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	data, err := os.ReadFile(g.Path)
	if err != nil {
		return Status{}, fmt.Errorf("gate: read %s: %w", g.Path, err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("gate: decode %s: %w", g.Path, err)
	}
	return st, nil
}
