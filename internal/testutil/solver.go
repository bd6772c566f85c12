package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vk/labgrid/internal/model"
)

// SolverEnv switches the test binary into fake solver mode.
const SolverEnv = "LABGRID_TEST_SOLVER"

// Exit code used by the fake solver when it finds no solution.
const SolverUnsolvedExit = 12

// SolverCommand returns a command line that runs the fake solver with args.
// The command must be executed with SolverEnv set, see SolverEnvVars.
func SolverCommand(args ...string) []string {
	return append([]string{os.Args[0], "-test.run=^TestHelperProcess$", "--"}, args...)
}

// SolverEnvVars returns the environment that enables the fake solver.
func SolverEnvVars() map[string]string {
	return map[string]string{SolverEnv: "1"}
}

// RunSolver turns the current process into the fake solver when SolverEnv is
// set and never returns in that case. Packages using the solver call it from
// a TestHelperProcess test:
//
//	func TestHelperProcess(t *testing.T) { testutil.RunSolver() }
//
// The solver understands these arguments; everything else, such as input
// files, is ignored except for file names containing "big":
//
//	--hungry         on a "big" input, hold far more memory than any test
//	                 limit for a few seconds before answering
//	--expansions=N   number of expanded states to report (default 100)
//	--sleep=D        sleep for duration D before answering
//	--exit=C         exit with code C after answering
//	--no-solution    report failure and exit with SolverUnsolvedExit
//	--record=DIR     write start and end timestamps to a file in DIR
func RunSolver() {
	if os.Getenv(SolverEnv) != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	os.Exit(solve(args))
}

func solve(args []string) int {
	start := time.Now()
	expansions := 100
	exit := 0
	var sleep time.Duration
	var record string
	solved, big, hungry := true, false, false

	for _, a := range args {
		name, value, _ := strings.Cut(a, "=")
		switch name {
		case "--expansions":
			expansions, _ = strconv.Atoi(value)
		case "--sleep":
			sleep, _ = time.ParseDuration(value)
		case "--exit":
			exit, _ = strconv.Atoi(value)
		case "--no-solution":
			solved = false
		case "--hungry":
			hungry = true
		case "--record":
			record = value
		default:
			if strings.Contains(filepath.Base(a), "big") {
				big = true
			}
		}
	}

	if record != "" {
		defer func() {
			line := fmt.Sprintf("%d %d\n", start.UnixNano(), time.Now().UnixNano())
			_ = os.WriteFile(filepath.Join(record, strconv.Itoa(os.Getpid())), []byte(line), 0o644)
		}()
	}

	if big && hungry {
		hog := make([]byte, 256<<20)
		for i := 0; i < len(hog); i += 4096 {
			hog[i] = 1
		}
		fmt.Println("Allocated search space.")
		time.Sleep(3 * time.Second)
		runtime.KeepAlive(hog)
	}

	time.Sleep(sleep)
	if !solved {
		fmt.Println("Search stopped without finding a solution.")
		fmt.Fprintln(os.Stderr, "unsolvable")
		return SolverUnsolvedExit
	}

	searchTime := float64(expansions) / 1000
	fmt.Println("Solution found.")
	fmt.Printf("Expanded %d state(s).\n", expansions)
	fmt.Printf("Evaluated %d state(s).\n", 2*expansions)
	fmt.Printf("Search time: %.3fs\n", searchTime)
	fmt.Printf("Total time: %.3fs\n", searchTime+0.1)
	return exit
}

// SolverBuilder is a build-cache builder that "builds" a revision by writing
// a driver script that runs the fake solver.
type SolverBuilder struct {
	// Fail lists revision ids whose build fails.
	Fail map[string]bool
	// Args are passed to the solver by the driver of a revision id.
	Args map[string][]string

	mu     sync.Mutex
	builds []string
}

// DriverName is the file name of the driver written by SolverBuilder.
const DriverName = "driver"

// Build implements the build-cache builder interface.
func (b *SolverBuilder) Build(_ context.Context, rev model.Revision, dir string) error {
	b.mu.Lock()
	b.builds = append(b.builds, rev.ID)
	b.mu.Unlock()
	if b.Fail[rev.ID] {
		return fmt.Errorf("build of %s failed", rev.ID)
	}
	return WriteSolverDriver(filepath.Join(dir, DriverName), b.Args[rev.ID]...)
}

// Builds returns the revision ids built so far, in call order.
func (b *SolverBuilder) Builds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.builds)
}

// WriteSolverDriver writes an executable script at path that runs the fake
// solver with args followed by the script's arguments.
func WriteSolverDriver(path string, args ...string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	var fixed strings.Builder
	for _, a := range args {
		fixed.WriteString(" '" + strings.ReplaceAll(a, "'", `'\''`) + "'")
	}
	script := fmt.Sprintf("#!/bin/sh\n%s=1 exec '%s' -test.run='^TestHelperProcess$' --%s \"$@\"\n", SolverEnv, exe, fixed.String())
	return os.WriteFile(path, []byte(script), 0o755)
}

// RequireLinux skips tests that depend on the /proc based memory watchdog.
func RequireLinux(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("memory watchdog needs /proc")
	}
}
