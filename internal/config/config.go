package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/module"
)

// FileConfig is the top-level structure of a module manifest. Any format
// viper understands (toml, yaml, json) is accepted; the extension decides.
type FileConfig struct {
	Env      []string       `toml:"env" mapstructure:"env"`
	EnvFiles []string       `toml:"env_files" mapstructure:"env_files"`
	Modules  []ModuleConfig `toml:"modules" mapstructure:"modules"`
}

type ModuleConfig struct {
	Name             string   `toml:"name" mapstructure:"name"`
	Type             string   `toml:"type" mapstructure:"type"`
	Command          []string `toml:"command" mapstructure:"command"`
	Args             []string `toml:"args" mapstructure:"args"`
	WorkingDirectory string   `toml:"working_directory" mapstructure:"working_directory"`
	Env              []string `toml:"env" mapstructure:"env"`
	User             string   `toml:"user" mapstructure:"user"`
	Group            string   `toml:"group" mapstructure:"group"`
	StdoutLog        string   `toml:"stdout_log" mapstructure:"stdout_log"`
	StderrLog        string   `toml:"stderr_log" mapstructure:"stderr_log"`
}

// DemoLoader yields the built-in two-module set used when no manifest is given.
type DemoLoader struct{}

func (DemoLoader) Load() ([]module.Spec, error) { return DemoModules(), nil }

// DemoModules returns a one-shot listing and a long-running date printer.
func DemoModules() []module.Spec {
	ls := module.NewConfig(
		[]module.EnvVar{module.NewEnvVar("A", "B")},
		module.NewProcessParameters([]string{"/bin/ls"}, []string{"-l"}, "/tmp"),
	)
	clock := module.NewConfig(
		nil,
		module.NewProcessParameters([]string{"/bin/bash"}, []string{"-c", "while true; do date; sleep 10; done"}, "/tmp"),
	)
	return []module.Spec{
		module.NewSpec("module1", ls),
		module.NewSpec("module2", clock),
	}
}

// FileLoader reads modules from a manifest on every Load.
type FileLoader struct {
	Path string
}

func NewFileLoader(path string) FileLoader { return FileLoader{Path: path} }

func (l FileLoader) Load() ([]module.Spec, error) { return LoadModules(l.Path) }

// LoadModules parses and validates the manifest at path. Every failure is a
// configuration error.
func LoadModules(path string) ([]module.Spec, error) {
	specs, err := loadModules(path)
	if err != nil {
		return nil, errs.Newf(errs.KindConfig, err, "%s", path)
	}
	return specs, nil
}

func loadModules(path string) ([]module.Spec, error) {
	fc, err := readFileConfig(path)
	if err != nil {
		return nil, err
	}
	global, err := globalEnv(fc, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if len(fc.Modules) == 0 {
		return nil, errors.New("manifest defines no modules")
	}

	seen := make(map[string]struct{}, len(fc.Modules))
	out := make([]module.Spec, 0, len(fc.Modules))
	for i, mc := range fc.Modules {
		spec, err := mc.toSpec(global)
		if err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", i, err)
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", i, err)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate module name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		out = append(out, spec)
	}
	return out, nil
}

func readFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fc, err
	}
	if err := v.Unmarshal(&fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func (mc ModuleConfig) toSpec(global []module.EnvVar) (module.Spec, error) {
	vars, err := parseEnvList(mc.Env)
	if err != nil {
		return module.Spec{}, fmt.Errorf("module %s: %w", mc.Name, err)
	}
	params := module.NewProcessParameters(mc.Command, mc.Args, mc.WorkingDirectory)
	if mc.User != "" {
		params = params.WithUser(mc.User)
	}
	if mc.Group != "" {
		params = params.WithGroup(mc.Group)
	}
	if mc.StderrLog != "" || mc.StdoutLog != "" {
		params = params.WithLogs(mc.StderrLog, mc.StdoutLog)
	}

	// module entries come last so they win over manifest-wide ones
	env := append(append([]module.EnvVar(nil), global...), vars...)
	spec := module.NewSpec(mc.Name, module.NewConfig(env, params))
	if mc.Type != "" {
		spec.Type = mc.Type
	}
	return spec, nil
}

// globalEnv merges env_files (in order) and then the top-level env list.
// Relative env file paths are resolved against the manifest directory.
func globalEnv(fc FileConfig, baseDir string) ([]module.EnvVar, error) {
	var out []module.EnvVar
	for _, p := range fc.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		vars, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
		out = append(out, vars...)
	}
	vars, err := parseEnvList(fc.Env)
	if err != nil {
		return nil, err
	}
	return append(out, vars...), nil
}

func parseEnvList(list []string) ([]module.EnvVar, error) {
	out := make([]module.EnvVar, 0, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env entry %q, want KEY=VALUE", kv)
		}
		out = append(out, module.NewEnvVar(k, v))
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes).
// Lines starting with # are ignored; file order is kept.
func loadEnvFile(path string) ([]module.EnvVar, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []module.EnvVar
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) != "" {
			out = append(out, module.NewEnvVar(strings.TrimSpace(k), strings.TrimSpace(v)))
		}
	}
	return out, nil
}
