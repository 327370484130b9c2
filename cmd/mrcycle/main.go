// Package main implements a CLI tool that analyzes GitLab merge request
// cycle times and phase breakdowns.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/cycletime"
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/gitlab"
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/phase"
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/report"
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

func main() {
	// Define command-line flags
	gitlabURL := flag.String("gitlab-url", "https://gitlab.com", "GitLab instance base URL")
	token := flag.String("token", "", "GitLab API token (falls back to GITLAB_TOKEN env, then Secret Manager)")
	rulesFile := flag.String("rules", "", "YAML file with reviewer classification rules")
	format := flag.String("format", "human", "Output format: human or json")
	batchSize := flag.Int("batch-size", 10, "MRs fetched concurrently per batch")
	activeDevHours := flag.Float64("active-dev-hours", 24, "Hours of post-creation commits before an MR counts as active development")
	commitsBehind := flag.Bool("commits-behind", false, "Include commits-behind-target branch staleness per MR")
	verbose := flag.Bool("verbose", false, "Enable debug logging")

	filterFlags := defineFilterFlags()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <MR_REF> [MR_REF...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Analyze cycle time and phase breakdown of GitLab merge requests.\n")
		fmt.Fprintf(os.Stderr, "MR references use the form group/project!42.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s mygroup/myproject!42\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --format json mygroup/myproject!42 mygroup/myproject!43\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --review-percent-min 30 --wait-days-max 2 mygroup/myproject!42 mygroup/myproject!43\n", os.Args[0])
	}

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()
	refs := flag.Args()

	for _, ref := range refs {
		if _, _, err := gitlab.ParseRef(ref); err != nil {
			log.Fatalf("Invalid MR reference: %v", err)
		}
	}

	apiToken, err := resolveToken(ctx, *token, logger)
	if err != nil {
		log.Fatalf("Failed to resolve GitLab token: %v\nPass --token or set GITLAB_TOKEN", err)
	}

	classifierCfg := timeline.DefaultClassifierConfig()
	if *rulesFile != "" {
		classifierCfg, err = timeline.LoadClassifierConfig(*rulesFile)
		if err != nil {
			log.Fatalf("Failed to load rules file: %v", err)
		}
	}

	client := gitlab.NewClient(gitlab.Config{
		BaseURL: *gitlabURL,
		Token:   apiToken,
		Logger:  logger,
	})

	cfg := report.DefaultConfig()
	cfg.BatchSize = *batchSize
	cfg.ActiveDevThreshold = time.Duration(*activeDevHours * float64(time.Hour))
	cfg.Classifier = classifierCfg
	cfg.Logger = logger
	if *commitsBehind {
		cfg.CommitsBehind = client
	}

	if flag.NArg() == 1 && filterFlags.filter().Empty() {
		if err := analyzeSingle(ctx, client, classifierCfg, refs[0], *format); err != nil {
			log.Fatalf("Analysis failed: %v", err)
		}
		return
	}

	if err := analyzeBatch(ctx, client, cfg, refs, filterFlags, *format); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
}

// resolveToken finds a GitLab API token: explicit flag, then the
// GITLAB_TOKEN environment variable, then Google Secret Manager.
func resolveToken(ctx context.Context, flagToken string, logger *slog.Logger) (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		logger.InfoContext(ctx, "Using GITLAB_TOKEN from environment")
		return token, nil
	}
	token, err := gsm.Fetch(ctx, "GITLAB_TOKEN")
	if err != nil {
		return "", fmt.Errorf("no token flag, no GITLAB_TOKEN env, GSM lookup failed: %w", err)
	}
	logger.InfoContext(ctx, "Using GITLAB_TOKEN from Google Secret Manager")
	return token, nil
}

// filterFlagSet holds the sixteen optional phase-filter bounds. NaN marks a
// flag the user did not set.
type filterFlagSet struct {
	bounds map[string]*float64
}

func defineFilterFlags() *filterFlagSet {
	fs := &filterFlagSet{bounds: make(map[string]*float64)}
	for _, phaseName := range []string{"dev", "wait", "review", "merge"} {
		for _, kind := range []string{"percent-min", "percent-max", "days-min", "days-max"} {
			name := phaseName + "-" + kind
			metric := "share in percent"
			if strings.HasPrefix(kind, "days") {
				metric = "duration in days"
			}
			direction := "Minimum"
			if strings.HasSuffix(kind, "max") {
				direction = "Maximum"
			}
			usage := fmt.Sprintf("%s %s phase %s", direction, phaseName, metric)
			fs.bounds[name] = flag.Float64(name, math.NaN(), usage)
		}
	}
	return fs
}

func (fs *filterFlagSet) bound(name string) *float64 {
	v := fs.bounds[name]
	if math.IsNaN(*v) {
		return nil
	}
	return v
}

func (fs *filterFlagSet) phaseBounds(phaseName string) report.Bounds {
	return report.Bounds{
		PercentMin: fs.bound(phaseName + "-percent-min"),
		PercentMax: fs.bound(phaseName + "-percent-max"),
		DaysMin:    fs.bound(phaseName + "-days-min"),
		DaysMax:    fs.bound(phaseName + "-days-max"),
	}
}

func (fs *filterFlagSet) filter() report.Filter {
	return report.Filter{
		Dev:    fs.phaseBounds("dev"),
		Wait:   fs.phaseBounds("wait"),
		Review: fs.phaseBounds("review"),
		Merge:  fs.phaseBounds("merge"),
	}
}

// analyzeSingle fetches one MR and prints its full timeline, four-stage
// cycle time and phase breakdown.
func analyzeSingle(ctx context.Context, client *gitlab.Client, classifierCfg timeline.ClassifierConfig, ref, format string) error {
	data, err := client.FetchMR(ctx, ref)
	if err != nil {
		return err
	}
	classifier := timeline.NewClassifier(classifierCfg)
	events := timeline.Assemble(data, classifier)

	end := data.MergedAt
	if !data.Merged() {
		end = time.Now()
	}
	segments := phase.SegmentsFromEvents(events, data.CreatedAt, end)
	breakdown := phase.Decompose(events, data.CreatedAt, end, segments)

	metrics, err := cycletime.Compute(data, func(msg string) {
		slog.Warn("Cycle time computation", "warning", msg)
	})
	hasCycleTime := err == nil
	if err != nil {
		slog.Info("No four-stage cycle time", "ref", ref, "reason", err)
	}

	if format == "json" {
		out := map[string]any{
			"ref":       ref,
			"title":     data.Title,
			"events":    events,
			"breakdown": breakdown,
		}
		if hasCycleTime {
			out["cycleTime"] = metrics
		}
		return printJSON(out)
	}

	printSingleHuman(data, events, metrics, hasCycleTime, breakdown)
	return nil
}

func printSingleHuman(data *timeline.MRData, events []timeline.Event, metrics cycletime.Metrics, hasCycleTime bool, breakdown phase.Breakdown) {
	fmt.Printf("MERGE REQUEST CYCLE ANALYSIS\n")
	fmt.Printf("============================\n\n")
	fmt.Printf("MR:     %s\n", data.Ref)
	fmt.Printf("Title:  %s\n", data.Title)
	fmt.Printf("Author: %s\n", data.Author.Username)
	if data.Merged() {
		fmt.Printf("Status: merged (%.1f hrs from creation)\n\n", data.MergedAt.Sub(data.CreatedAt).Hours())
	} else {
		fmt.Printf("Status: open\n\n")
	}

	fmt.Printf("TIMELINE (%d events)\n", len(events))
	for _, ev := range events {
		actor := ev.Actor.DisplayName
		if actor == "" {
			actor = string(ev.Actor.Role)
		}
		fmt.Printf("  %s  %-22s %s\n", ev.Timestamp.Format("2006-01-02 15:04"), ev.Type, actor)
	}
	fmt.Println()

	if hasCycleTime {
		fmt.Printf("CYCLE TIME\n")
		fmt.Printf("  Coding   %8.1f hrs\n", metrics.Stages.CodingHours)
		if metrics.Stages.PickupHours != nil {
			fmt.Printf("  Pickup   %8.1f hrs\n", *metrics.Stages.PickupHours)
		}
		if metrics.Stages.ReviewHours != nil {
			fmt.Printf("  Review   %8.1f hrs\n", *metrics.Stages.ReviewHours)
		}
		fmt.Printf("  Merge    %8.1f hrs\n\n", metrics.Stages.MergeHours)
	}

	fmt.Printf("PHASE BREAKDOWN (%.1f hrs total)\n", breakdown.TotalDurationSeconds/3600)
	printPhase("Dev", breakdown.Dev)
	printPhase("Wait", breakdown.Wait)
	printPhase("Review", breakdown.Review)
	printPhase("Merge", breakdown.Merge)
	if breakdown.Estimated {
		fmt.Printf("  (estimated split: no timeline segments available)\n")
	}
	if breakdown.FirstReviewInferredFromApproved {
		fmt.Printf("  (review start inferred from first approval)\n")
	}
}

func printPhase(name string, s phase.Stat) {
	fmt.Printf("  %-7s %8.1f hrs  %5.1f%%  (%d commits, %d comments, intensity %d)\n",
		name, s.DurationSeconds/3600, s.Percentage,
		s.Intensity.Commits, s.Intensity.Comments, s.Intensity.Level)
}

// analyzeBatch runs the orchestrator over all refs, applies any phase
// filter, and prints the rows plus the aggregate summary.
func analyzeBatch(ctx context.Context, client *gitlab.Client, cfg report.Config, refs []string, filterFlags *filterFlagSet, format string) error {
	orchestrator := report.NewOrchestrator(client, cfg)
	result, err := orchestrator.Run(ctx, refs)
	if err != nil {
		return err
	}

	filter := filterFlags.filter()
	var filtered *report.FilterResult
	if filter.Empty() {
		filtered = &report.FilterResult{Rows: make([]report.FilteredRow, 0, len(result.Rows))}
		for _, row := range result.Rows {
			filtered.Rows = append(filtered.Rows, report.FilteredRow{BatchRow: row})
		}
	} else {
		filtered, err = report.ApplyFilter(result.Rows, filter)
		if err != nil {
			return err
		}
	}

	summary := report.SummarizeFiltered(filtered)

	if format == "json" {
		return printJSON(map[string]any{
			"rows":       filtered.Rows,
			"exclusions": filtered.Exclusions,
			"summary":    summary,
		})
	}

	printBatchHuman(filtered, summary)
	return nil
}

func printBatchHuman(filtered *report.FilterResult, summary report.AggregateSummary) {
	fmt.Printf("MERGE REQUEST BATCH ANALYSIS\n")
	fmt.Printf("============================\n\n")

	fmt.Printf("%-30s %-8s %-18s %10s %7s %7s %7s %7s\n",
		"MR", "STATUS", "TYPE", "CYCLE(h)", "DEV%", "WAIT%", "REV%", "MRG%")
	for _, row := range filtered.Rows {
		if row.Error != "" {
			fmt.Printf("%-30s ERROR: %s\n", row.Ref, row.Error)
			continue
		}
		fmt.Printf("%-30s %-8s %-18s %10.1f %6.1f%% %6.1f%% %6.1f%% %6.1f%%\n",
			row.Ref, row.Status, row.Type, row.CycleTimeHours,
			row.Breakdown.Dev.Percentage, row.Breakdown.Wait.Percentage,
			row.Breakdown.Review.Percentage, row.Breakdown.Merge.Percentage)
		if row.CommitsBehind != nil {
			fmt.Printf("%-30s   behind target by %d commits\n", "", *row.CommitsBehind)
		}
	}
	fmt.Println()

	if filtered.Excluded > 0 {
		fmt.Printf("FILTERED OUT: %d\n", filtered.Excluded)
		for bucket, n := range filtered.Exclusions {
			fmt.Printf("  %-24s %d\n", bucket, n)
		}
		fmt.Println()
	}

	fmt.Printf("SUMMARY (%d MRs, %d succeeded, %d failed)\n",
		summary.Total, summary.Succeeded, summary.Failed)
	printBand("Cycle time (h)", summary.CycleTimeHours)
	printBand("Dev (h)", summary.DevHours)
	printBand("Wait (h)", summary.WaitHours)
	printBand("Review (h)", summary.ReviewHours)
	printBand("Merge (h)", summary.MergeHours)
	fmt.Printf("  %-16s mean %8.1f  p50 %8.1f  p90 %8.1f\n",
		"Code changes", summary.CodeChanges.Mean, summary.CodeChanges.P50, summary.CodeChanges.P90)
	fmt.Printf("  %-16s mean %8.1f  p50 %8.1f  p90 %8.1f\n",
		"Review comments", summary.ReviewComments.Mean, summary.ReviewComments.P50, summary.ReviewComments.P90)
	fmt.Println()

	printGroup("WITH AI REVIEW", summary.WithAIReview)
	printGroup("WITHOUT AI REVIEW", summary.WithoutAIReview)
}

func printBand(name string, b report.Band) {
	fmt.Printf("  %-16s mean %8.1f  p50 %8.1f  p75 %8.1f  p90 %8.1f  p95 %8.1f\n",
		name, b.Mean, b.P50, b.P75, b.P90, b.P95)
}

func printGroup(name string, g report.GroupSummary) {
	fmt.Printf("%s (%d MRs)\n", name, g.Rows)
	if g.Rows == 0 {
		fmt.Println()
		return
	}
	for _, t := range []report.MRType{report.MRTypeStandard, report.MRTypeDraft, report.MRTypeActiveDevelopment} {
		if n := g.ByType[t]; n > 0 {
			fmt.Printf("  %-20s %d\n", t, n)
		}
	}
	printBand("Cycle time (h)", g.CycleTimeHours)
	fmt.Println()
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
