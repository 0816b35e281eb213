package module

import (
	"fmt"
	"strings"
)

// TypeNative is the only module type supported: a plain OS process.
const TypeNative = "native"

// EnvVar is a single environment entry applied on top of the inherited environment.
type EnvVar struct {
	Key   string `yaml:"key" json:"key" mapstructure:"key"`
	Value string `yaml:"value" json:"value" mapstructure:"value"`
}

func NewEnvVar(key, value string) EnvVar { return EnvVar{Key: key, Value: value} }

// String renders the entry in KEY=VALUE form.
func (e EnvVar) String() string { return e.Key + "=" + e.Value }

// ProcessParameters describes how to launch a module's process.
// Command[0] is the executable; Command[1:] are baked-in arguments that
// precede Args on the final argv.
type ProcessParameters struct {
	Command          []string `yaml:"command" json:"command"`
	Args             []string `yaml:"args" json:"args"`
	WorkingDirectory string   `yaml:"working_directory" json:"working_directory"`
	User             *string  `yaml:"user,omitempty" json:"user,omitempty"`
	Group            *string  `yaml:"group,omitempty" json:"group,omitempty"`
	StderrLog        *string  `yaml:"stderr_log,omitempty" json:"stderr_log,omitempty"`
	StdoutLog        *string  `yaml:"stdout_log,omitempty" json:"stdout_log,omitempty"`
}

func NewProcessParameters(command, args []string, workingDirectory string) ProcessParameters {
	return ProcessParameters{
		Command:          cloneStrings(command),
		Args:             cloneStrings(args),
		WorkingDirectory: workingDirectory,
	}
}

// WithUser returns a copy with the user identity set; empty clears it.
func (p ProcessParameters) WithUser(user string) ProcessParameters {
	p = p.Clone()
	p.User = optional(user)
	return p
}

func (p ProcessParameters) WithGroup(group string) ProcessParameters {
	p = p.Clone()
	p.Group = optional(group)
	return p
}

func (p ProcessParameters) WithLogs(stderrLog, stdoutLog string) ProcessParameters {
	p = p.Clone()
	p.StderrLog = optional(stderrLog)
	p.StdoutLog = optional(stdoutLog)
	return p
}

// Exe returns the executable, or "" when the command vector is empty.
func (p ProcessParameters) Exe() string {
	if len(p.Command) == 0 {
		return ""
	}
	return p.Command[0]
}

// ExeArgs returns the baked-in arguments following the executable.
func (p ProcessParameters) ExeArgs() []string {
	if len(p.Command) <= 1 {
		return nil
	}
	return p.Command[1:]
}

// Argv returns the arguments passed after the executable: ExeArgs then Args.
func (p ProcessParameters) Argv() []string {
	out := make([]string, 0, len(p.Command)+len(p.Args))
	out = append(out, p.ExeArgs()...)
	out = append(out, p.Args...)
	return out
}

func (p ProcessParameters) Clone() ProcessParameters {
	c := p
	c.Command = cloneStrings(p.Command)
	c.Args = cloneStrings(p.Args)
	c.User = cloneString(p.User)
	c.Group = cloneString(p.Group)
	c.StderrLog = cloneString(p.StderrLog)
	c.StdoutLog = cloneString(p.StdoutLog)
	return c
}

// Config is the static desired configuration of a module.
type Config struct {
	Env      []EnvVar          `yaml:"env,omitempty" json:"env,omitempty"`
	Settings ProcessParameters `yaml:"settings" json:"settings"`
}

func NewConfig(env []EnvVar, settings ProcessParameters) Config {
	return Config{Env: cloneEnv(env), Settings: settings.Clone()}
}

func (c Config) Clone() Config {
	return Config{Env: cloneEnv(c.Env), Settings: c.Settings.Clone()}
}

// Status is the last known runtime state of a module.
//
//	PID set, ExitStatus unset: believed running.
//	PID unset, ExitStatus set: exit code of the last completed run.
//	both unset: never started, failed to start, or stopped without an observed code.
type Status struct {
	PID        *int `yaml:"pid,omitempty" json:"pid,omitempty"`
	ExitStatus *int `yaml:"exit_status,omitempty" json:"exit_status,omitempty"`
}

func Running(pid int) Status { return Status{PID: &pid} }

func Exited(code *int) Status {
	if code == nil {
		return Status{}
	}
	c := *code
	return Status{ExitStatus: &c}
}

func NotRunning() Status { return Status{} }

// HasPID reports whether the status records a live pid.
func (s Status) HasPID() bool { return s.PID != nil }

func (s Status) Clone() Status {
	var c Status
	if s.PID != nil {
		p := *s.PID
		c.PID = &p
	}
	if s.ExitStatus != nil {
		e := *s.ExitStatus
		c.ExitStatus = &e
	}
	return c
}

func (s Status) String() string {
	switch {
	case s.PID != nil:
		return fmt.Sprintf("running(pid=%d)", *s.PID)
	case s.ExitStatus != nil:
		return fmt.Sprintf("exited(code=%d)", *s.ExitStatus)
	default:
		return "not-running"
	}
}

// Spec is the persisted unit: one named module and its last known status.
type Spec struct {
	Name   string  `yaml:"name" json:"name"`
	Type   string  `yaml:"type" json:"type"`
	Config Config  `yaml:"config" json:"config"`
	Status *Status `yaml:"status,omitempty" json:"status,omitempty"`
}

func NewSpec(name string, config Config) Spec {
	return Spec{Name: name, Type: TypeNative, Config: config.Clone()}
}

// WithStatus returns a copy of s carrying st.
func (s Spec) WithStatus(st Status) Spec {
	c := s.Clone()
	st = st.Clone()
	c.Status = &st
	return c
}

// PID returns the recorded pid, if any.
func (s Spec) PID() (int, bool) {
	if s.Status == nil || s.Status.PID == nil {
		return 0, false
	}
	return *s.Status.PID, true
}

func (s Spec) Clone() Spec {
	c := Spec{Name: s.Name, Type: s.Type, Config: s.Config.Clone()}
	if s.Status != nil {
		st := s.Status.Clone()
		c.Status = &st
	}
	return c
}

// Validate checks the fields required to launch the module.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("module name is required")
	}
	if s.Type != TypeNative {
		return fmt.Errorf("module %s: unsupported type %q", s.Name, s.Type)
	}
	if strings.TrimSpace(s.Config.Settings.Exe()) == "" {
		return fmt.Errorf("module %s: command is required", s.Name)
	}
	for _, e := range s.Config.Env {
		if e.Key == "" {
			return fmt.Errorf("module %s: env entry with empty key", s.Name)
		}
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Empty slices collapse to nil so that decoded and constructed values compare equal.
func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneEnv(in []EnvVar) []EnvVar {
	if len(in) == 0 {
		return nil
	}
	return append([]EnvVar(nil), in...)
}
