package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evoviz/internal/model"
	"evoviz/internal/stats"
	"evoviz/internal/trace"
	evoapi "evoviz/pkg/evoviz"
)

var (
	okLabel   = color.New(color.FgGreen, color.Bold)
	failLabel = color.New(color.FgRed, color.Bold)
	warnLabel = color.New(color.FgYellow)
	dimLabel  = color.New(color.Faint)
)

func (a *app) summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary [log ...]",
		Short: "Render the generation summary animation of every log in --log-dir, or of the given logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			template := a.summarizeTemplate()
			var results []evoapi.FileResult
			if len(args) > 0 {
				for _, path := range args {
					if err := cmd.Context().Err(); err != nil {
						return err
					}
					req := template
					req.LogPath = path
					res, err := client.Summarize(cmd.Context(), req)
					if err != nil {
						a.logger.Error("summary failed", "file", path, "error", err)
					}
					results = append(results, evoapi.FileResult{LogPath: path, Result: res, Err: err})
				}
			} else {
				results, err = client.SummarizeDir(cmd.Context(), evoapi.SummarizeDirRequest{
					Dir:      a.cfg.LogDir,
					Template: template,
				})
				if err != nil {
					return err
				}
				if len(results) == 0 {
					warnLabel.Fprintf(a.stdout, "no logs ending in %s found in %s\n", a.cfg.Suffix, a.cfg.LogDir)
					return nil
				}
			}
			return reportSummaries(a.stdout, results)
		},
	}

	flags := cmd.Flags()
	flags.String("log-dir", "", "directory scanned for logs")
	flags.String("temp-dir", "", "directory for per-generation stills when --keep-frames is set")
	flags.String("title", "", "caption prefix drawn above every frame")
	flags.Int("cadence-every", 0, "emit a snapshot when (generation+1) is a multiple of this")
	flags.Int("cadence-first", 0, "additional early snapshot generation")
	flags.Float64("fps", 0, "animation frames per second")
	flags.Int("closing-pad", 0, "extra copies of the final frame")
	flags.Int("panel-width", 0, "width of one agent panel in pixels")
	flags.Int("panel-height", 0, "height of one agent panel in pixels")
	flags.Bool("keep-frames", false, "also write each frame as a PNG")
	flags.Bool("require-companions", true, "fail a log whose Train/Test csv companions are missing")
	a.bind(flags, "log_dir", "temp_dir", "title", "cadence_every", "cadence_first", "fps", "closing_pad",
		"panel_width", "panel_height", "keep_frames", "require_companions")
	return cmd
}

func (a *app) summarizeTemplate() evoapi.SummarizeRequest {
	return evoapi.SummarizeRequest{
		Suffix:                 a.cfg.Suffix,
		Title:                  a.cfg.Title,
		Cadence:                a.cfg.Cadence(),
		FPS:                    a.cfg.FPS,
		ClosingPad:             a.cfg.ClosingPad,
		NoClosingPad:           a.cfg.ClosingPad == 0,
		PanelWidth:             a.cfg.PanelWidth,
		PanelHeight:            a.cfg.PanelHeight,
		KeepFrames:             a.cfg.KeepFrames,
		FramesDir:              a.cfg.TempDir,
		AllowMissingCompanions: !a.cfg.RequireCompanions,
	}
}

func reportSummaries(w io.Writer, results []evoapi.FileResult) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			failLabel.Fprint(w, "FAIL ")
			fmt.Fprintf(w, "%s: %v\n", r.LogPath, r.Err)
			continue
		}
		res := r.Result
		okLabel.Fprint(w, "OK   ")
		fmt.Fprintf(w, "%s -> %s (%s) run_id=%s generations=%s snapshots=%d frames=%d best=%s",
			res.LogPath,
			res.AnimationPath,
			humanize.Bytes(uint64(res.AnimationSize)),
			res.RunID,
			humanize.Comma(int64(res.Generations)),
			res.Snapshots,
			res.Frames,
			formatFitness(res.BestFitness),
		)
		if res.Misses > 0 {
			warnLabel.Fprintf(w, " fitness_misses=%d", res.Misses)
		}
		fmt.Fprintln(w)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d logs failed", failed, len(results))
	}
	return nil
}

func (a *app) tracksCmd() *cobra.Command {
	var upto int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "tracks <log>",
		Short: "Print the pocket fitness track of every agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if upto < 0 {
				return errors.New("upto must be >= 0")
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			track, err := client.Tracks(cmd.Context(), evoapi.TracksRequest{LogPath: args[0], Upto: upto})
			if err != nil {
				return err
			}
			if jsonOut {
				return encodeJSON(a.stdout, stats.NewTrackFile(track))
			}
			fmt.Fprintf(a.stdout, "generations=%d\n", len(track.X))
			for agent, ys := range track.Ys {
				final := "n/a"
				if len(ys) > 0 {
					final = strconv.FormatFloat(ys[len(ys)-1], 'g', 6, 64)
				}
				fmt.Fprintf(a.stdout, "agent=%d points=%d final_fitness=%s\n", agent, len(ys), final)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&upto, "upto", 0, "only generations strictly below this (0 = whole log)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit tracks as JSON")
	return cmd
}

func (a *app) improvementsCmd() *cobra.Command {
	var upto int
	var operator string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "improvements <log>",
		Short: "List the generations at which an operator improved each agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if upto < 0 {
				return errors.New("upto must be >= 0")
			}
			eventType, err := operatorFromName(operator)
			if err != nil {
				return err
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			overlay, err := client.Improvements(cmd.Context(), evoapi.ImprovementsRequest{
				LogPath:  args[0],
				Operator: eventType,
				Upto:     upto,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return encodeJSON(a.stdout, improvementRows(overlay))
			}
			for agent, xs := range overlay.Xs {
				if len(xs) == 0 {
					continue
				}
				fmt.Fprintf(a.stdout, "agent=%d count=%d generations=%s", agent, len(xs), joinInts(xs))
				if overlay.Degrees != nil {
					fmt.Fprintf(a.stdout, " degrees=%s", joinDegrees(overlay.Degrees[agent]))
				}
				fmt.Fprintln(a.stdout)
			}
			if overlay.Misses > 0 {
				warnLabel.Fprintf(a.stdout, "fitness_misses=%d\n", overlay.Misses)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&upto, "upto", 0, "only generations strictly below this (0 = whole log)")
	cmd.Flags().StringVar(&operator, "operator", "mutate", "mutate, local-search, bubble-up or recombine")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the overlay as JSON")
	return cmd
}

type improvementRow struct {
	Agent      int      `json:"agent"`
	Generation int      `json:"generation"`
	Fitness    *float64 `json:"fitness"`
	Degree     string   `json:"degree,omitempty"`
}

// improvementRows flattens an overlay. An entry whose lookup missed has no
// fitness.
func improvementRows(overlay model.Overlay) []improvementRow {
	rows := make([]improvementRow, 0)
	for agent := range overlay.Xs {
		for _, point := range trace.Points(overlay, agent) {
			row := improvementRow{Agent: agent, Generation: point.Generation}
			if point.HasFitness && !math.IsNaN(point.Fitness) {
				v := point.Fitness
				row.Fitness = &v
			}
			if point.HasDegree {
				row.Degree = trace.DegreeLabel(point.Degree)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func operatorFromName(name string) (model.EventType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mutate", "mutation":
		return model.EventCurrentMutate, nil
	case "local-search", "ls":
		return model.EventPocketLocalSearch, nil
	case "bubble-up", "bubble":
		return model.EventBubbleUp, nil
	case "recombine", "recombination":
		return model.EventCurrentRecombine, nil
	}
	if _, ok := trace.PolicyFor(model.EventType(name)); ok {
		return model.EventType(name), nil
	}
	return "", fmt.Errorf("%w: %s", evoapi.ErrUnknownOperator, name)
}

func (a *app) runsCmd() *cobra.Command {
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded summary runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.Runs(cmd.Context(), evoapi.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return encodeJSON(a.stdout, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "no runs found")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(a.stdout, "run_id=%s created_at=%s log=%s gens=%d snapshots=%d frames=%d best=%s\n",
					r.RunID,
					r.CreatedAtUTC,
					r.LogPath,
					r.Generations,
					r.Snapshots,
					r.Frames,
					formatFitness(r.BestFitness),
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the per-agent summary of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			runID := args[0]
			summary, ok, err := stats.ReadRunSummary(client.RunsDir(), runID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run not found: %s", runID)
			}
			fmt.Fprintf(a.stdout, "run_id=%s log=%s animation=%s\n", summary.RunID, summary.LogPath, summary.AnimationPath)
			fmt.Fprintf(a.stdout, "records=%s generations=%d snapshots=%d frames=%d fitness_misses=%d best=%s\n",
				humanize.Comma(int64(summary.Records)),
				summary.Generations,
				summary.Snapshots,
				summary.Frames,
				summary.Misses,
				formatFitness(summary.BestFitness),
			)
			for _, agent := range summary.Agents {
				fmt.Fprintf(a.stdout, "agent=%d points=%d final=%s mutate=%d ls=%d bubble=%d recombine=%d degrees=%d/%d/%d\n",
					agent.Agent,
					agent.Points,
					formatFitness(agent.FinalFitness),
					agent.Mutations,
					agent.LocalSearches,
					agent.BubbleUps,
					agent.Recombinations,
					agent.DegreeCounts[0], agent.DegreeCounts[1], agent.DegreeCounts[2],
				)
			}

			// Snapshot digests live in the store, which only outlives the process for sqlite.
			if _, snapshots, err := client.Run(cmd.Context(), runID); err == nil {
				for _, snap := range snapshots {
					dimLabel.Fprintf(a.stdout, "snapshot generation=%d cutoff=%d final=%t mutate=%d ls=%d bubble=%d recombine=%d\n",
						snap.Generation, snap.Cutoff, snap.Final, snap.Mutations, snap.LocalSearches, snap.BubbleUps, snap.Recombinations)
				}
			}
			return nil
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var runID, outDir string
	var latest bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts into an export directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID != "" && latest {
				return errors.New("use either --run-id or --latest, not both")
			}
			if runID == "" && !latest {
				return errors.New("export requires --run-id or --latest")
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			exported, err := client.Export(cmd.Context(), evoapi.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "exported run_id=%s to=%s\n", exported.RunID, filepath.Clean(exported.Directory))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run from the run index")
	cmd.Flags().StringVar(&outDir, "out", "", "export output directory (default <out-dir>/exports)")
	return cmd
}

func formatFitness(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'g', 6, 64)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func joinDegrees(values []model.Degree) string {
	parts := make([]string, len(values))
	for i, d := range values {
		parts[i] = trace.DegreeLabel(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func encodeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
