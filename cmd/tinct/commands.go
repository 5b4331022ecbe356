package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/tinct"
	"github.com/jward/tinct/internal/cache"
)

var (
	flagStart  int
	flagLength int
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>",
	Short: "Print the semantic classifications of a file",
	Long:  "Classifies a file, reading from the persistent cache when it holds the file's current checksum.",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().IntVar(&flagStart, "start", 0, "start offset of the requested span")
	classifyCmd.Flags().IntVar(&flagLength, "length", -1, "length of the requested span (default: to end of file)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path, err := filepath.Abs(args[0])
	if err != nil {
		return outputError("classify", fmt.Errorf("resolving path %q: %w", args[0], err))
	}
	repoRoot := findRepoRoot(filepath.Dir(path))

	doc, err := tinct.LoadDocument(projectName(repoRoot), repoRoot, path)
	if err != nil {
		return outputError("classify", err)
	}
	span, err := requestedSpan(doc, flagStart, flagLength)
	if err != nil {
		return outputError("classify", err)
	}

	engine, _, err := openEngine(ctx, repoRoot, nil)
	if err != nil {
		return outputError("classify", err)
	}
	defer engine.Close()

	res, err := engine.Classify(ctx, doc, span, nil)
	if err != nil {
		return outputError("classify", err)
	}
	return outputResult(CLIResult{Command: "classify", Results: toCLIClassification(doc, res)})
}

// requestedSpan validates --start/--length against doc. A negative length
// extends to the end of the document.
func requestedSpan(doc tinct.Document, start, length int) (tinct.TextSpan, error) {
	n := len(doc.Content)
	if start < 0 || start > n {
		return tinct.TextSpan{}, fmt.Errorf("start %d out of range [0, %d]", start, n)
	}
	if length < 0 {
		length = n - start
	}
	if start+length > n {
		return tinct.TextSpan{}, fmt.Errorf("span [%d..%d) exceeds document length %d", start, start+length, n)
	}
	return tinct.TextSpan{Start: start, Length: length}, nil
}

var warmCmd = &cobra.Command{
	Use:   "warm [path]",
	Short: "Persist classifications for every supported file in a repository",
	Long:  "Classifies every supported file in the repository containing path (default: .) and writes the results to the persistent cache, skipping files whose checksum is already stored.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWarm,
}

func runWarm(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx := cmd.Context()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("warm", err)
	}
	repoRoot := findRepoRoot(targetDir)
	project := projectName(repoRoot)

	engine, _, err := openEngine(ctx, repoRoot, nil)
	if err != nil {
		return outputError("warm", err)
	}
	defer engine.Close()

	stats, err := engine.WarmDirectory(ctx, project, repoRoot, true)
	if err != nil {
		// Per-file failures are reported in the counts.
		if ctx.Err() != nil || stats.Written+stats.Skipped+stats.Failed == 0 {
			return outputError("warm", err)
		}
		zlog.Sugar().Warnf("warm finished with errors: %v", err)
	}

	fmt.Fprintf(os.Stderr, "Warmed %s in %s\n", repoRoot, time.Since(start).Round(time.Millisecond))
	return outputResult(CLIResult{
		Command: "warm",
		Results: toCLIPersistStats(project, repoRoot, stats, time.Since(start).Milliseconds()),
	})
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Warm a repository, then persist classifications as files change",
	Long:  "Runs warm over the repository containing path, marks the workspace loaded, then re-persists supported files on every write until interrupted. Serves Prometheus metrics when metrics.addr is set.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("watch", err)
	}
	repoRoot := findRepoRoot(targetDir)

	w, err := newWatcher(ctx, repoRoot, projectName(repoRoot))
	if err != nil {
		return outputError("watch", err)
	}
	defer w.Close()

	if err := w.Run(ctx); err != nil {
		return outputError("watch", err)
	}
	return nil
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every persisted classification",
	Args:  cobra.NoArgs,
	RunE:  runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repoRoot, err := currentRepoRoot()
	if err != nil {
		return outputError("purge", err)
	}
	engine, b, err := openEngine(ctx, repoRoot, nil)
	if err != nil {
		return outputError("purge", err)
	}
	defer engine.Close()

	var deleted int64
	if b != nil {
		deleted, err = b.Purge(ctx, cache.PersistenceName)
		if err != nil {
			return outputError("purge", err)
		}
	}
	return outputResult(CLIResult{
		Command: "purge",
		Results: CLIPurge{Backend: cfg.Persistence.Backend, Deleted: deleted},
	})
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many documents have persisted classifications",
	Long:  "Counts persisted classifications across the backend and for the current project.",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repoRoot, err := currentRepoRoot()
	if err != nil {
		return outputError("stats", err)
	}
	engine, b, err := openEngine(ctx, repoRoot, nil)
	if err != nil {
		return outputError("stats", err)
	}
	defer engine.Close()

	stats := CLIStats{Backend: cfg.Persistence.Backend, Project: projectName(repoRoot)}
	if b != nil {
		stats.Streams, err = b.StreamCount(ctx, cache.PersistenceName)
		if err != nil {
			return outputError("stats", err)
		}
		docs, err := b.DocumentsWithStream(ctx, stats.Project, cache.PersistenceName)
		if err != nil {
			return outputError("stats", err)
		}
		stats.Documents = len(docs)
	}
	return outputResult(CLIResult{Command: "stats", Results: stats})
}

func currentRepoRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return findRepoRoot(wd), nil
}

// persistContext bounds a single event-driven persist.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 30*time.Second)
}
