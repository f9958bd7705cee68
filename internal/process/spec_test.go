package process

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/scriptdeck/internal/env"
)

func testRuntime(root string) Runtime {
	return Runtime{
		ScriptsDir:    "/srv/scripts",
		ToolRoot:      root,
		Interpreter:   "python",
		HomeVar:       "VIRTUAL_ENV",
		ModulePathVar: "PYTHONPATH",
		Unbuffered:    true,
		Env:           env.New().WithBase([]string{"PATH=/usr/bin", "HOME=/home/u"}),
	}
}

func TestLaunchDefaults(t *testing.T) {
	rt := testRuntime("/srv/venv")
	l := rt.Launch(Script{ID: "a.py", Path: "/srv/scripts/a.py"})

	assert.Equal(t, filepath.Join("/srv/venv", BinDir, "python"), l.Name)
	assert.Equal(t, []string{"/srv/scripts/a.py"}, l.Args)
	assert.Equal(t, "/srv/scripts", l.Dir)

	v, _ := env.Lookup(l.Env, "PATH")
	assert.Equal(t, filepath.Join("/srv/venv", BinDir)+string(filepath.ListSeparator)+"/usr/bin", v)
	v, _ = env.Lookup(l.Env, "VIRTUAL_ENV")
	assert.Equal(t, "/srv/venv", v)
	v, _ = env.Lookup(l.Env, "PYTHONPATH")
	assert.Equal(t, "/srv/scripts", v)
	v, _ = env.Lookup(l.Env, "PYTHONUNBUFFERED")
	assert.Equal(t, "1", v)
	v, _ = env.Lookup(l.Env, "HOME")
	assert.Equal(t, "/home/u", v)
}

func TestLaunchFolderOverride(t *testing.T) {
	rt := testRuntime("/srv/venv")
	l := rt.Launch(Script{ID: "job/a.py", Path: "/srv/scripts/job/a.py", Folder: "/srv/scripts/job"})

	assert.Equal(t, "/srv/scripts/job", l.Dir)
	v, _ := env.Lookup(l.Env, "PYTHONPATH")
	assert.Equal(t, "/srv/scripts/job", v)
	assert.Equal(t, "/srv/scripts/job", l.Overrides.Set["PYTHONPATH"])
}

func TestLaunchInterpreterResolution(t *testing.T) {
	rt := testRuntime("/srv/venv")
	rt.Interpreter = "/usr/bin/python3"
	l := rt.Launch(Script{ID: "a.py", Path: "a.py"})
	assert.Equal(t, "/usr/bin/python3", l.Name)

	rt.Interpreter = ""
	l = rt.Launch(Script{ID: "a.py", Path: "/srv/scripts/a.py"})
	assert.Equal(t, "/srv/scripts/a.py", l.Name)
	assert.Empty(t, l.Args)

	rt = Runtime{Interpreter: "python3"}
	l = rt.Launch(Script{ID: "a.py", Path: "a.py"})
	assert.Equal(t, "python3", l.Name)
	_, ok := l.Overrides.Set["VIRTUAL_ENV"]
	assert.False(t, ok)
}

func TestLaunchCommand(t *testing.T) {
	rt := testRuntime("/srv/venv")
	cmd := rt.Launch(Script{ID: "a.py", Path: "/srv/scripts/a.py"}).Command()
	assert.Equal(t, "/srv/scripts", cmd.Dir)
	assert.Equal(t, []string{filepath.Join("/srv/venv", BinDir, "python"), "/srv/scripts/a.py"}, cmd.Args)
	assert.NotNil(t, cmd.SysProcAttr)
}
