package cli

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/internal/observability"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// captureStdout runs fn and returns what it printed to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = origStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	return string(out)
}

// setupManagers points the package-level managers at a fresh task root and
// restores the previous values when the test ends.
func setupManagers(t *testing.T) core.ChainManager {
	t.Helper()
	origChainMgr, origTaskMgr, origRoot := ChainMgr, TaskMgr, TasksRoot
	t.Cleanup(func() {
		ChainMgr, TaskMgr, TasksRoot = origChainMgr, origTaskMgr, origRoot
	})

	root := t.TempDir()
	ChainMgr = core.NewChainManager(root, nil)
	TaskMgr = ChainMgr.GetTaskManager()
	TasksRoot = root
	return ChainMgr
}

// seedChain creates a chain with one backlog task per slug.
func seedChain(t *testing.T, cm core.ChainManager, slug string, taskSlugs ...string) *models.Chain {
	t.Helper()
	chain, err := cm.CreateChain("", slug, strings.ToUpper(slug[:1])+slug[1:], core.CreateChainOpts{})
	if err != nil {
		t.Fatalf("CreateChain(%s): %v", slug, err)
	}
	for _, ts := range taskSlugs {
		if _, err := cm.AddTask(chain.ID, ts, ts, "", core.CreateTaskOpts{}); err != nil {
			t.Fatalf("AddTask(%s): %v", ts, err)
		}
	}
	return chain
}

type metricsMock struct {
	calcFn func(since time.Time) (*observability.Metrics, error)
}

func (m *metricsMock) Calculate(since time.Time) (*observability.Metrics, error) {
	return m.calcFn(since)
}

type alertsMock struct {
	evaluateFn func() ([]observability.Alert, error)
}

func (m *alertsMock) Evaluate() ([]observability.Alert, error) {
	return m.evaluateFn()
}

// resetFlags restores every flag of cmd to its default and clears Changed,
// now and again when the test ends.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	reset := func() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	reset()
	t.Cleanup(reset)
}

// setFlags sets flags on cmd as if they were given on the command line.
func setFlags(t *testing.T, cmd *cobra.Command, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		if err := cmd.Flags().Set(kv[i], kv[i+1]); err != nil {
			t.Fatalf("setting --%s: %v", kv[i], err)
		}
	}
}
