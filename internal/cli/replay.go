package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snapfsio/snapfs-agent-mysql/internal/apply"
	"github.com/snapfsio/snapfs-agent-mysql/internal/harness"
	"github.com/snapfsio/snapfs-agent-mysql/internal/session"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// maxFrameBytes bounds one line of a replay file.
const maxFrameBytes = 16 << 20

// ReplayResult holds the outcome of a replay.
type ReplayResult struct {
	Frames    int      `json:"frames"`
	Batches   int      `json:"batches"`
	Applied   int      `json:"applied"`
	Skipped   int      `json:"skipped"`
	Conflicts int      `json:"conflicts"`
	Dropped   int      `json:"dropped"`
	Malformed int      `json:"malformed"`
	Acks      []string `json:"acks"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <frames.jsonl>",
		Short: "Apply recorded gateway frames to the store",
		Long: `Read gateway frames, one JSON document per line, and apply them to the
configured store exactly as a live session would: same decoding, same
sequence gate, same retry and drop rules. Blank lines and lines starting
with # are ignored. Use - to read from stdin.

Replaying the same file twice is safe; the second pass skips every event.

Exit codes:
  0 - All frames handled
  1 - A batch could not be committed (replay stops there)
  2 - Command error (file not found, bad configuration, etc.)

Examples:
  snapfs-agent replay ./captured.jsonl --store-url sqlite:./snapfs.db
  cat frames.jsonl | snapfs-agent replay - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, args[0], cmd)
		},
	}
}

func runReplay(opts *RootOptions, path string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, opts.Verbose)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	in, closeIn, err := openFrames(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open frames", err)
	}
	defer closeIn()

	st, err := store.Open(ctx, cfg.StoreURL, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open store", err)
	}
	defer st.Close()

	if cfg.MigrateOnStart {
		if err := st.Migrate(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to create schema", err)
		}
	}

	applier := apply.New(st,
		apply.WithMaxAttempts(cfg.ApplyAttempts),
		apply.WithLogger(logger),
	)
	sender := &harness.Recorder{}
	proc := session.NewProcessor(applier, sender, logger, cfg.ShutdownGrace)

	result := ReplayResult{Acks: []string{}}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		result.Frames++

		before := sender.Len()
		res, err := proc.Handle(ctx, []byte(text))
		result.Acks = append(result.Acks, sender.Acks(before)...)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("line %d: batch %s not committed", line, res.Batch.ID), err)
		}
		result.add(res)
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read frames", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return formatter.Success(fmt.Sprintf(
		"Replayed %d frame(s): %d batch(es) acked, %d event(s) applied, %d skipped (%d conflicts), %d dropped, %d malformed",
		result.Frames, len(result.Acks), result.Applied, result.Skipped, result.Conflicts, result.Dropped, result.Malformed,
	))
}

func (r *ReplayResult) add(res session.Result) {
	switch res.Outcome {
	case session.OutcomeApplied:
		r.Batches++
		r.Applied += res.Apply.Applied
		r.Skipped += res.Apply.Skipped
		r.Conflicts += res.Apply.Conflicts
	case session.OutcomeDropped:
		r.Dropped++
	case session.OutcomeMalformed:
		r.Malformed++
	}
}

// openFrames opens path, or stdin for "-".
func openFrames(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
