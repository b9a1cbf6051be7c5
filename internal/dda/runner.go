package dda

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/uuid"
)

// ErrBinaryNotFound is returned by NewRunner when the binary path doesn't exist.
type ErrBinaryNotFound struct{ Path string }

func (e *ErrBinaryNotFound) Error() string { return fmt.Sprintf("dda binary not found: %s", e.Path) }

// ErrFileNotFound is returned when the requested input file doesn't exist.
type ErrFileNotFound struct{ Path string }

func (e *ErrFileNotFound) Error() string { return fmt.Sprintf("input file not found: %s", e.Path) }

// ErrExecutionFailed wraps a non-zero exit from the DDA binary.
type ErrExecutionFailed struct {
	ExitCode int
	Stderr   string
}

func (e *ErrExecutionFailed) Error() string {
	return fmt.Sprintf("dda binary exited %d: %s", e.ExitCode, e.Stderr)
}

// Runner invokes the external DDA analysis binary.
//
// The binary ships as a Cosmopolitan/APE polyglot executable, so on
// non-Windows platforms it is invoked via `sh <path>` rather than executed
// directly; Windows gets the .exe form directly.
type Runner struct {
	BinaryPath string
}

// NewRunner validates the binary exists before returning a usable Runner.
func NewRunner(binaryPath string) (*Runner, error) {
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, &ErrBinaryNotFound{Path: binaryPath}
	}
	return &Runner{BinaryPath: binaryPath}, nil
}

func channelIndices(channels []string) []string {
	if len(channels) == 0 {
		return []string{"1"}
	}
	return channels
}

func (r *Runner) buildCommand(ctx context.Context, outPath string, req Request) *exec.Cmd {
	args := []string{
		"-DATA_FN", req.FilePath,
		"-OUT_FN", outPath,
		"-EDF",
		"-CH_list",
	}
	args = append(args, channelIndices(req.Channels)...)
	args = append(args, "-dm", "4", "-order", "4", "-nr_tau", "2")
	args = append(args, "-WL", strconv.Itoa(req.WindowLength))
	args = append(args, "-WS", strconv.Itoa(req.WindowStep))
	args = append(args, "-SELECT")
	args = append(args, req.Select.Bits()...)
	args = append(args, "-MODEL", "1", "2", "10")

	if req.CTWindowLen > 0 {
		args = append(args, "-WL_CT", strconv.Itoa(req.CTWindowLen))
	}
	if req.CTWindowStep > 0 {
		args = append(args, "-WS_CT", strconv.Itoa(req.CTWindowStep))
	}
	if len(req.CTChannels) > 0 {
		args = append(args, "-CH_list")
		for _, pair := range req.CTChannels {
			args = append(args, strconv.Itoa(pair[0]), strconv.Itoa(pair[1]))
		}
	}

	args = append(args, "-TAU")
	for tau := req.TauMin; tau <= req.TauMax; tau++ {
		args = append(args, strconv.Itoa(tau))
	}
	args = append(args, "-StartEnd", strconv.Itoa(req.StartBound), strconv.Itoa(req.EndBound))

	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, r.BinaryPath, args...)
	}
	shArgs := append([]string{r.BinaryPath}, args...)
	return exec.CommandContext(ctx, "sh", shArgs...)
}

// Run executes each enabled DDA variant as its own binary invocation and
// parses their output files. onProgress, if non-nil, is called once with 0
// before the first invocation and then once each time a variant's
// invocation completes, reporting the percentage of variants done so far —
// the only checkpoint granularity the binary itself offers, since it
// reports no progress of its own mid-run. onProgress may be nil.
func (r *Runner) Run(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	if _, err := os.Stat(req.FilePath); err != nil {
		return nil, &ErrFileNotFound{Path: req.FilePath}
	}
	if req.AnalysisID == "" {
		req.AnalysisID = uuid.NewString()
	}
	if req.ColumnStride <= 0 {
		req.ColumnStride = defaultColumnStride
	}

	enabled := req.Select.enabledVariants()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no DDA variant enabled in select mask")
	}
	report(onProgress, 0, "Starting DDA analysis...")

	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("dda_output_%s.txt", req.AnalysisID))
	defer cleanupVariantFiles(outPath, enabled)

	var variantResults []VariantResult
	for i, v := range enabled {
		variantReq := req
		variantReq.Select = selectMaskFor(v)

		cmd := r.buildCommand(ctx, outPath, variantReq)
		output, err := cmd.CombinedOutput()
		if err != nil {
			exitCode := -1
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
			}
			return nil, &ErrExecutionFailed{ExitCode: exitCode, Stderr: string(output)}
		}

		path, found := findVariantFile(outPath, v)
		if !found {
			slog.Warn("dda: variant output file not found, skipping", "variant", v)
		} else if data, err := os.ReadFile(path); err != nil {
			slog.Warn("dda: failed reading variant output", "variant", v, "error", err)
		} else if parsed, err := ParseOutputBytes(data, req.ColumnStride); err != nil {
			slog.Warn("dda: failed parsing variant output", "variant", v, "error", err)
		} else {
			variantResults = append(variantResults, VariantResult{
				Variant:     v,
				DisplayName: v.DisplayName(),
				Output:      *parsed,
			})
		}

		pct := int(float64(i+1) / float64(len(enabled)) * 100)
		report(onProgress, pct, fmt.Sprintf("Completed %s analysis", v.DisplayName()))
	}

	if len(variantResults) == 0 {
		return nil, fmt.Errorf("no data extracted from any DDA variant")
	}

	labels := make([]string, len(channelIndices(req.Channels)))
	for i := range labels {
		labels[i] = fmt.Sprintf("Channel %d", i+1)
	}

	return &Result{
		AnalysisID:     req.AnalysisID,
		ChannelLabels:  labels,
		Primary:        variantResults[0].Output,
		VariantResults: variantResults,
	}, nil
}

func report(onProgress ProgressFunc, pct int, message string) {
	if onProgress != nil {
		onProgress(pct, message)
	}
}

func findVariantFile(outPath string, v Variant) (string, bool) {
	stem := outPath
	if ext := filepath.Ext(outPath); ext != "" {
		stem = outPath[:len(outPath)-len(ext)]
	}
	candidates := []string{
		stem + "_" + string(v),
		stem + "_" + string(v) + ".txt",
		outPath + "_" + string(v),
		outPath + "_" + string(v) + ".txt",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}

func cleanupVariantFiles(outPath string, variants []Variant) {
	_ = os.Remove(outPath)
	for _, v := range variants {
		if path, found := findVariantFile(outPath, v); found {
			_ = os.Remove(path)
		}
	}
}
