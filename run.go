package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/feishu-go/internal/host"
	"github.com/tonimelisma/feishu-go/internal/runlog"
)

// runOptions are the run command's own flags.
type runOptions struct {
	OutputDir string
	Inline    bool
	NoHistory bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <job-file>",
		Short: "Execute an operation described by a job file",
		Long: `Execute one operation over the rows of a YAML or JSON job file and print
the output items as JSON. Use "-" to read the job from stdin.

A job names the operation, its parameters and the input rows. String
parameters starting with "=" are templates; {{ }} segments are evaluated as
JavaScript against $json, $index and $binary of each row.

Example job:
  resource: message
  operation: send
  parameters:
    receive_id_type: chat_id
    receive_id: oc_123
    msg_type: text
    content: '={{ JSON.stringify({text: "Hello " + $json.name}) }}'
  items:
    - json: {name: Ada}
    - json: {name: Grace}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), args[0], opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "save output binaries to this directory")
	cmd.Flags().BoolVar(&opts.Inline, "inline", false, "embed output binaries as base64")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record this execution")

	return cmd
}

func runJob(ctx context.Context, path string, opts runOptions, stdin io.Reader, stdout io.Writer) error {
	cc := mustCLIContext(ctx)
	ra := cc.Resolved

	job, baseDir, err := readJob(path, stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx = shutdownContext(ctx, cc.Logger)

	var history *runlog.Store
	if !opts.NoHistory {
		history = openHistory(ctx, ra, cc.Logger)
	}

	if history != nil {
		defer history.Close()
	}

	exec, err := newExecutor(ra, history, cc.Logger)
	if err != nil {
		return err
	}

	res, err := exec.execute(ctx, ra, job, host.Options{
		BaseDir:       baseDir,
		MaxBinarySize: ra.MaxBinaryBytes(),
	}, sourceRun)
	if err != nil {
		return err
	}

	exported, err := host.Export(res.Report.Outputs, host.ExportOptions{Dir: opts.OutputDir, Inline: opts.Inline})
	if err != nil {
		return err
	}

	reportSaved(cc, exported)
	cc.Statusf("%s: %d rows (%s), %d failed\n", job.Key(), res.Report.Rows, res.Report.Mode, res.Report.Failed)

	if cc.Flags.JSON {
		return printJSON(stdout, ExecutionResponse{
			ID:      res.ID,
			Mode:    res.Report.Mode,
			Rows:    res.Report.Rows,
			Failed:  res.Report.Failed,
			Outputs: exported,
		})
	}

	if len(exported) == 1 {
		return printJSON(stdout, exported[0])
	}

	return printJSON(stdout, exported)
}

// readJob loads the job at path, or from stdin for "-". Relative binary
// paths resolve against the job file's directory.
func readJob(path string, stdin io.Reader) (*host.Job, string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading job from stdin: %w", err)
		}

		job, err := host.ParseJob(data)
		if err != nil {
			return nil, "", err
		}

		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("resolving working directory: %w", err)
		}

		return job, wd, nil
	}

	job, err := host.LoadJob(path)
	if err != nil {
		return nil, "", err
	}

	return job, filepath.Dir(path), nil
}

func reportSaved(cc *CLIContext, exported [][]host.ExportedItem) {
	for _, items := range exported {
		for _, item := range items {
			for _, b := range item.Binary {
				if b.Path != "" {
					cc.Statusf("Saved %s (%s)\n", b.Path, formatSize(int64(b.FileSize)))
				}
			}
		}
	}
}
