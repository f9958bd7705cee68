package process

import (
	"os/exec"
	"path/filepath"

	"github.com/loykin/scriptdeck/internal/env"
)

// Script describes one discovered script. ID is the stable identifier used for
// registry lookup and journal naming; Folder optionally overrides the working
// directory.
type Script struct {
	ID     string `json:"script"`
	Path   string `json:"path"`
	Folder string `json:"folder,omitempty"`
}

// Runtime is the service-wide launch configuration shared by every script.
type Runtime struct {
	ScriptsDir    string   `json:"scripts_dir" mapstructure:"scripts_dir"`
	ToolRoot      string   `json:"tool_root" mapstructure:"tool_root"`             // virtualenv root; <root>/bin is prepended to PATH
	Interpreter   string   `json:"interpreter" mapstructure:"interpreter"`         // relative names resolve under <root>/bin
	HomeVar       string   `json:"home_var" mapstructure:"home_var"`               // e.g. VIRTUAL_ENV
	ModulePathVar string   `json:"module_path_var" mapstructure:"module_path_var"` // e.g. PYTHONPATH
	Unbuffered    bool     `json:"unbuffered" mapstructure:"unbuffered"`
	Env           *env.Env `json:"-" mapstructure:"-"`
}

// Launch is the fully resolved, declarative description of one spawn.
type Launch struct {
	Name      string        `json:"name"`
	Args      []string      `json:"args,omitempty"`
	Dir       string        `json:"dir"`
	Env       []string      `json:"-"`
	Overrides env.Overrides `json:"overrides"`
}

// Launch resolves how s is spawned: interpreter, working directory and the
// environment overrides layered on top of the base environment.
func (rt Runtime) Launch(s Script) Launch {
	dir := s.Folder
	if dir == "" {
		dir = rt.ScriptsDir
	}

	o := env.Overrides{Set: map[string]string{}}
	if rt.ToolRoot != "" {
		o.PrependPath = []string{filepath.Join(rt.ToolRoot, BinDir)}
		if rt.HomeVar != "" {
			o.Set[rt.HomeVar] = rt.ToolRoot
		}
	}
	if rt.ModulePathVar != "" && dir != "" {
		o.Set[rt.ModulePathVar] = dir
	}
	if rt.Unbuffered {
		o.Set["PYTHONUNBUFFERED"] = "1"
	}

	l := Launch{Name: s.Path, Dir: dir, Overrides: o}
	if interp := rt.interpreter(); interp != "" {
		l.Name = interp
		l.Args = []string{s.Path}
	}
	e := rt.Env
	if e == nil {
		e = env.New()
	}
	l.Env = e.Apply(o)
	return l
}

func (rt Runtime) interpreter() string {
	switch {
	case rt.Interpreter == "":
		return ""
	case filepath.IsAbs(rt.Interpreter), rt.ToolRoot == "":
		return rt.Interpreter
	default:
		return filepath.Join(rt.ToolRoot, BinDir, rt.Interpreter)
	}
}

// Command builds the *exec.Cmd for l. Output wiring is left to the caller.
func (l Launch) Command() *exec.Cmd {
	// #nosec G204 -- launching configured scripts is the purpose of the service
	cmd := exec.Command(l.Name, l.Args...)
	cmd.Dir = l.Dir
	cmd.Env = l.Env
	configureSysProcAttr(cmd)
	return cmd
}
