package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ed-forum-harvester/internal/corpus"
	"github.com/JakeFAU/ed-forum-harvester/internal/hash/sha256"
	"github.com/JakeFAU/ed-forum-harvester/internal/id/uuid"
)

type inspectOptions struct {
	digest string
}

type courseCount struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

type inspectReport struct {
	Path         string        `json:"path"`
	RunID        string        `json:"run_id,omitempty"`
	RunCreatedAt *time.Time    `json:"run_created_at,omitempty"`
	SHA256       string        `json:"sha256"`
	Courses      []courseCount `json:"courses"`
	Entries      int           `json:"entries"`
}

// newInspectCmd creates the 'inspect' subcommand, which decodes a corpus
// written by 'collect' and summarizes it.
func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Decode a stored corpus and print its digest and per-course counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspectCorpus(args[0], opts.digest)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&opts.digest, "sha256", "", "expected hex digest; inspect fails on mismatch")
	return cmd
}

func inspectCorpus(path, want string) (inspectReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inspectReport{}, fmt.Errorf("read corpus: %w", err)
	}
	hasher := sha256.New()
	if want != "" && !hasher.Verify(data, want) {
		return inspectReport{}, fmt.Errorf("corpus %s does not match digest %s", path, want)
	}
	digest, err := hasher.Hash(data)
	if err != nil {
		return inspectReport{}, err
	}
	doc, err := corpus.Decode(bytes.NewReader(data))
	if err != nil {
		return inspectReport{}, fmt.Errorf("decode %s: %w", path, err)
	}

	report := inspectReport{
		Path:    path,
		SHA256:  digest,
		Courses: make([]courseCount, 0, doc.Len()),
		Entries: doc.EntryCount(),
	}
	// Corpora land under {prefix}/{run_id}/{object}.
	if runID, err := uuid.ParseRunID(filepath.Base(filepath.Dir(path))); err == nil {
		if created, err := uuid.CreatedAt(runID); err == nil {
			report.RunID = runID
			report.RunCreatedAt = &created
		}
	}
	for _, name := range doc.Courses() {
		entries, _ := doc.Entries(name)
		report.Courses = append(report.Courses, courseCount{Name: name, Entries: len(entries)})
	}
	return report, nil
}
