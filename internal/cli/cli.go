// Package cli implements the trainconf subcommands. Each command writes its
// output to the given writer and reports failure through its error, so main
// only has to map errors to exit codes.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/renameio/v2"

	"github.com/eugenenazirov/trainconf/internal/hparams"
	"github.com/eugenenazirov/trainconf/internal/lint"
	"github.com/eugenenazirov/trainconf/internal/models"
	"github.com/eugenenazirov/trainconf/internal/schedule"
)

var (
	// ErrInvalid is returned when a checked document has validation errors.
	ErrInvalid = errors.New("validation failed")
	// ErrDifferent is returned by Diff when the documents are not equivalent.
	ErrDifferent = errors.New("documents differ")
)

// ValidateOptions configure Validate.
type ValidateOptions struct {
	Paths   []string
	Strict  bool
	Workers int
	JSON    bool
}

type fileReport struct {
	Path   string          `json:"path"`
	Valid  bool            `json:"valid"`
	Error  string          `json:"error,omitempty"`
	Issues []hparams.Issue `json:"issues,omitempty"`
}

// Validate checks every file in opts.Paths and prints one line per issue.
// It returns ErrInvalid when any file fails to load or has errors.
func Validate(ctx context.Context, w io.Writer, opts ValidateOptions) error {
	results, err := lint.Run(ctx, opts.Paths, lint.Options{Strict: opts.Strict, Workers: opts.Workers})
	if err != nil {
		return err
	}

	failed := 0
	reports := make([]fileReport, 0, len(results))
	for _, res := range results {
		fr := fileReport{Path: res.Path, Valid: res.Valid(), Issues: res.Report.Issues}
		if res.Err != nil {
			fr.Error = res.Err.Error()
		}
		if !fr.Valid {
			failed++
		}
		reports = append(reports, fr)
	}

	if opts.JSON {
		if err := writeJSON(w, reports); err != nil {
			return err
		}
	} else {
		for _, fr := range reports {
			printFileReport(w, fr)
		}
		fmt.Fprintf(w, "%d file(s) checked, %d failed\n", len(reports), failed)
	}

	if failed > 0 {
		return ErrInvalid
	}
	return nil
}

func printFileReport(w io.Writer, fr fileReport) {
	if fr.Error != "" {
		fmt.Fprintf(w, "%s: error: %s\n", fr.Path, fr.Error)
		return
	}
	for _, issue := range fr.Issues {
		loc := fr.Path
		if issue.Line > 0 {
			loc = fmt.Sprintf("%s:%d", fr.Path, issue.Line)
		}
		fmt.Fprintf(w, "%s: %s: %s\n", loc, issue.Severity, issue.Error())
	}
	if fr.Valid {
		fmt.Fprintf(w, "%s: ok\n", fr.Path)
	}
}

// Format prints the canonical form of path, or rewrites path in place when
// write is set.
func Format(w io.Writer, path string, write bool) error {
	doc, err := hparams.LoadFile(path)
	if err != nil {
		return err
	}
	return emit(w, path, doc, write)
}

// Set applies key=value overrides to path. The result must still validate.
func Set(w io.Writer, path string, overrides []string, write, strict bool) error {
	doc, err := hparams.LoadFile(path)
	if err != nil {
		return err
	}
	updated, err := hparams.ApplyOverrides(doc, overrides)
	if err != nil {
		return err
	}

	report := hparams.Validate(updated, hparams.Options{Strict: strict})
	if err := report.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return emit(w, path, updated, write)
}

func emit(w io.Writer, path string, doc *hparams.Document, write bool) error {
	out, err := hparams.Encode(doc)
	if err != nil {
		return err
	}
	if !write {
		_, err = w.Write(out)
		return err
	}
	return writeFileAtomic(path, out)
}

// writeFileAtomic replaces path with data, keeping the file mode.
func writeFileAtomic(path string, data []byte) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// Diff prints the changes between two files and returns ErrDifferent unless
// they are equivalent.
func Diff(w io.Writer, pathA, pathB string, asJSON bool) error {
	a, err := hparams.LoadFile(pathA)
	if err != nil {
		return err
	}
	b, err := hparams.LoadFile(pathB)
	if err != nil {
		return err
	}

	changes := hparams.Diff(a, b)
	if asJSON {
		if changes == nil {
			changes = []hparams.Change{}
		}
		if err := writeJSON(w, changes); err != nil {
			return err
		}
	} else {
		for _, c := range changes {
			switch c.Type {
			case hparams.ChangeAdded:
				fmt.Fprintf(w, "+ %s: %s\n", c.Key, c.New)
			case hparams.ChangeRemoved:
				fmt.Fprintf(w, "- %s: %s\n", c.Key, c.Old)
			case hparams.ChangeModified:
				fmt.Fprintf(w, "~ %s: %s -> %s\n", c.Key, c.Old, c.New)
			}
		}
	}

	if len(changes) > 0 {
		return ErrDifferent
	}
	return nil
}

// Schedule prints the learning rate at the start of every epoch.
func Schedule(w io.Writer, path string, stepsPerEpoch int, asJSON bool) error {
	doc, err := hparams.LoadFile(path)
	if err != nil {
		return err
	}
	if err := hparams.Validate(doc, hparams.Options{}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg, err := hparams.Decode(doc)
	if err != nil {
		return err
	}
	sched, err := schedule.FromConfig(cfg, stepsPerEpoch)
	if err != nil {
		return err
	}

	points := sched.Preview()
	if asJSON {
		return writeJSON(w, points)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "EPOCH\tSTEP\tLR\n")
	for _, p := range points {
		fmt.Fprintf(tw, "%d\t%d\t%.6g\n", p.Epoch, p.Step, p.LR)
	}
	return tw.Flush()
}

// Models lists the catalogue, or describes the stages of one model.
func Models(w io.Writer, name string, asJSON bool) error {
	if name == "" {
		all := models.All()
		if asJSON {
			return writeJSON(w, all)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "NAME\tIMAGE\tEMBED\tDEPTH\tHEADS\tDROP PATH\tPRETRAINED\n")
		for _, a := range all {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%v\t%g\t%t\n",
				a.Name, a.ImageSize, a.EmbedDim, a.Depth, a.NumHeads, a.DropPathRate, a.HasPretrained())
		}
		return tw.Flush()
	}

	arch, err := models.Lookup(name)
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(models.Names(), ", "))
	}
	stages := models.Describe(arch, 0, -1)
	if asJSON {
		return writeJSON(w, struct {
			Model  models.Arch    `json:"model"`
			Stages []models.Stage `json:"stages"`
		}{arch, stages})
	}

	fmt.Fprintf(w, "%s: %d blocks, %d features\n", arch.Name, arch.Blocks(), arch.NumFeatures())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STAGE\tCHANNELS\tRESOLUTION\tBLOCKS\tHEADS\tHEAD DIM\tATTENTION\tSPATIAL CONV\n")
	for _, s := range stages {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%t\t%t\n",
			s.Index, s.Channels, s.Resolution, s.Blocks, s.Heads, s.HeadDim, s.Attention, s.SpatialConv)
	}
	return tw.Flush()
}

// Schema prints every known option with its default and constraints.
func Schema(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "KEY\tSECTION\tKIND\tDEFAULT\tCONSTRAINT\tDESCRIPTION\n")
	for _, f := range hparams.DefaultRegistry().Fields() {
		def := f.Default.String()
		if f.Required {
			def = "(required)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", f.Key, f.Section, f.Kind, def, constraint(f), f.Description)
	}
	return tw.Flush()
}

func constraint(f hparams.Field) string {
	switch {
	case len(f.Enum) > 0:
		return strings.Join(f.Enum, "|")
	case f.Bounds != nil:
		return f.Bounds.String()
	default:
		return "-"
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
