package spice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/charlib/internal/errs"
)

// Runner executes the simulator binary and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NgspiceOption configures an Ngspice backend.
type NgspiceOption func(*Ngspice)

// WithRunner replaces the process runner.
func WithRunner(r Runner) NgspiceOption {
	return func(n *Ngspice) { n.run = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) NgspiceOption {
	return func(n *Ngspice) { n.logger = l }
}

// Ngspice runs decks through the ngspice batch mode, one process per
// trial. Decks, logs and vector data are kept in the work directory.
//
// In shared mode the backend stands in for the shared-library binding:
// it reports no concurrent-instance support and serializes every call.
type Ngspice struct {
	path    string
	workDir string
	shared  bool
	run     Runner
	logger  *slog.Logger

	mu  sync.Mutex
	seq atomic.Uint64
}

// NewNgspice creates a backend running the executable at path.
func NewNgspice(path, workDir string, shared bool, opts ...NgspiceOption) *Ngspice {
	n := &Ngspice{
		path:    path,
		workDir: workDir,
		shared:  shared,
		run:     execRunner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Capabilities implements Simulator.
func (n *Ngspice) Capabilities() Capabilities {
	if n.shared {
		return Capabilities{Name: "ngspice-shared", ConcurrentInstances: false}
	}
	return Capabilities{Name: "ngspice", ConcurrentInstances: true}
}

// Transient implements Simulator.
func (n *Ngspice) Transient(ctx context.Context, deck *Deck) (*Result, error) {
	if deck.Tran == nil {
		return nil, fmt.Errorf("deck %s: no transient analysis configured", deck.Title)
	}
	return n.simulate(ctx, deck)
}

// AC implements Simulator.
func (n *Ngspice) AC(ctx context.Context, deck *Deck) (*Result, error) {
	if deck.AC == nil {
		return nil, fmt.Errorf("deck %s: no AC analysis configured", deck.Title)
	}
	return n.simulate(ctx, deck)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func (n *Ngspice) simulate(ctx context.Context, deck *Deck) (*Result, error) {
	if n.shared {
		n.mu.Lock()
		defer n.mu.Unlock()
	}

	if err := os.MkdirAll(n.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	base := filepath.Join(n.workDir, fmt.Sprintf("%s_%d", unsafeChars.ReplaceAllString(deck.Title, "_"), n.seq.Add(1)))
	deckPath, logPath, dataPath := base+".cir", base+".log", base+".dat"

	d := *deck
	d.Control = []string{"set wr_singlescale", "set wr_vecnames", "run"}
	if len(deck.Save) > 0 {
		d.Control = append(d.Control, fmt.Sprintf("wrdata %s %s", dataPath, strings.Join(deck.Save, " ")))
	}

	f, err := os.Create(deckPath)
	if err != nil {
		return nil, fmt.Errorf("failed to write deck: %w", err)
	}
	if err := d.Render(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write deck: %w", err)
	}

	n.logger.Debug("running ngspice", "deck", deckPath, "analysis", d.Analysis())
	out, runErr := n.run(ctx, n.path, "-b", "-o", logPath, deckPath)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	logText := string(out)
	if data, err := os.ReadFile(logPath); err == nil {
		logText = string(data) + logText
	}

	result := NewResult(deck.Title)
	result.Log = logText
	if runErr != nil {
		if missingBinary(runErr) {
			return nil, &errs.ConfigurationError{Field: "ngspice_path", Message: "cannot run " + n.path, Err: runErr}
		}
		return nil, &errs.ResultError{Trial: deck.Title, Err: runErr}
	}
	if marker := nonConvergence(logText); marker != "" {
		return nil, &errs.ResultError{Trial: deck.Title, Err: fmt.Errorf("ngspice: %s", marker)}
	}

	result.Measurements = ParseMeasurements(strings.NewReader(logText))
	if len(deck.Save) > 0 {
		data, err := os.Open(dataPath)
		if err != nil {
			return nil, &errs.ResultError{Trial: deck.Title, Err: err}
		}
		defer data.Close()
		if result.Vectors, err = ParseVectors(data); err != nil {
			return nil, &errs.ResultError{Trial: deck.Title, Err: err}
		}
	}
	return result, nil
}

// missingBinary reports whether err means the simulator never started.
func missingBinary(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// convergenceMarkers abort a run. A bare "singular matrix" warning is not
// one of them: ngspice prints it before gmin or source stepping recovers.
var convergenceMarkers = []string{
	"timestep too small",
	"iteration limit reached",
	"simulation(s) aborted",
}

func nonConvergence(log string) string {
	lower := strings.ToLower(log)
	for _, m := range convergenceMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}

var measureLine = regexp.MustCompile(`^\s*(\w+)\s*=\s*([-+0-9.eE]+)`)

// ParseMeasurements extracts "name = value" lines from simulator output.
// Names are lower-cased; lines whose value does not parse are skipped.
func ParseMeasurements(r io.Reader) map[string]float64 {
	out := map[string]float64{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := measureLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out[strings.ToLower(m[1])] = v
	}
	return out
}

// ParseVectors reads wrdata output written with wr_singlescale and
// wr_vecnames: a header of vector names (scale first) followed by rows of
// numbers. Complex vectors contribute a real and an imaginary column; only
// the real part of each is kept. A complex scale with real vectors (AC
// frequency with magnitudes) is recognized too.
func ParseVectors(r io.Reader) (map[string][]float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var names []string
	for scanner.Scan() {
		if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
			names = fields
			break
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("vector data has no header")
	}

	keys := make([]string, len(names))
	keys[0] = ScaleVector
	for i, name := range names[1:] {
		keys[i+1] = strings.ToLower(name)
	}

	out := make(map[string][]float64, len(keys))
	for line := 2; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		column := func(i int) int { return i }
		switch len(fields) {
		case len(keys):
		case 2 * len(keys):
			column = func(i int) int { return 2 * i }
		case len(keys) + 1:
			column = func(i int) int {
				if i == 0 {
					return 0
				}
				return i + 1
			}
		default:
			return nil, fmt.Errorf("vector data line %d: expected %d columns, got %d", line, len(keys), len(fields))
		}
		for i, key := range keys {
			v, err := strconv.ParseFloat(fields[column(i)], 64)
			if err != nil {
				return nil, fmt.Errorf("vector data line %d: %w", line, err)
			}
			out[key] = append(out[key], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
