package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"recmig/internal/datasource/file"
	csvparser "recmig/internal/parser/csv"
	"recmig/internal/parser/fixedwidth"
)

func newFixed2CSVCmd(rf *rootFlags) *cobra.Command {
	var (
		sep         string
		lineNumbers bool
		tolerant    bool
		jobs        int
		outDir      string
		listPath    string
		delimiter   string
	)
	cmd := &cobra.Command{
		Use:   "fixed2csv [flags] FILE...",
		Short: "Convert fixed-width SQL client exports to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := args
			if listPath != "" {
				listed, err := file.ReadList(listPath)
				if err != nil {
					return fmt.Errorf("read list: %w", err)
				}
				inputs = append(inputs, listed...)
			}
			if len(inputs) == 0 {
				return errors.New("no input files")
			}
			sepRune, err := singleRune("sep", sep)
			if err != nil {
				return err
			}
			delim, err := singleRune("delimiter", delimiter)
			if err != nil {
				return err
			}

			d := &fixedwidth.Decoder{Sep: sepRune, Tolerant: tolerant, Log: rf.log}
			opts := fixedwidth.ConvertOptions{
				LineNumbers: lineNumbers,
				Dialect:     csvparser.Dialect{Delimiter: delim},
			}
			results, err := d.ConvertAll(cmd.Context(), outputJobs(inputs, outDir), jobs, opts)
			for _, r := range results {
				if r.Output == "" {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s declared=%d produced=%d failed=%d\n",
					r.Input, r.Output, r.Declared, r.Produced, r.Failed)
			}
			if err != nil {
				return err
			}
			if merr := fixedwidth.Mismatches(results); merr != nil {
				rf.log.Warn("fixed2csv: record count mismatch", "err", merr)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&sep, "sep", "|", "column separator of the export")
	f.StringVar(&delimiter, "delimiter", ",", "delimiter of the written CSV")
	f.BoolVar(&lineNumbers, "line-numbers", false, "prepend the source line of each record")
	f.BoolVar(&tolerant, "tolerant", false, "skip corrupted records instead of failing")
	f.IntVarP(&jobs, "jobs", "j", 0, "files converted concurrently (0 = all)")
	f.StringVarP(&outDir, "out", "o", "", "output directory (default: next to each input)")
	f.StringVar(&listPath, "list", "", "file listing inputs, one per line")
	return cmd
}

// outputJobs maps each input to <out>/<base>.csv, replacing the input's
// extension.
func outputJobs(inputs []string, outDir string) []fixedwidth.Job {
	jobs := make([]fixedwidth.Job, 0, len(inputs))
	for _, in := range inputs {
		dir := outDir
		if dir == "" {
			dir = filepath.Dir(in)
		}
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		jobs = append(jobs, fixedwidth.Job{In: in, Out: filepath.Join(dir, base+".csv")})
	}
	return jobs
}

func singleRune(flag, s string) (rune, error) {
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("--%s must be a single character, got %q", flag, s)
	}
	return r[0], nil
}
