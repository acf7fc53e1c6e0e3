package evoviz

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"evoviz/internal/dataset"
	"evoviz/internal/eventlog"
	"evoviz/internal/model"
	"evoviz/internal/render"
	"evoviz/internal/stats"
	"evoviz/internal/storage"
	"evoviz/internal/summary"
	"evoviz/internal/topology"
	"evoviz/internal/trace"
)

const (
	defaultOutDir    = "evoviz-out"
	defaultDBPath    = "evoviz.db"
	runsDirName      = "runs"
	exportsDirName   = "exports"
	framesDirName    = "frames"
	AnimationSuffix  = ".GenerationSummary.gif"
	defaultRunsLimit = 20
)

var ErrUnknownOperator = errors.New("unknown operator")

type Options struct {
	StoreKind string
	DBPath    string
	// OutDir holds runs/<run id>/ artifacts and the default exports/ directory.
	OutDir     string
	ExportsDir string
	// Topology wins over TopologyFile; with neither the 13-agent tree is used.
	Topology     *topology.Topology
	TopologyFile string
	Logger       *slog.Logger
}

type Client struct {
	store    storage.Store
	topo     topology.Topology
	topoFile string
	log      *slog.Logger

	runsDir    string
	exportsDir string

	mu          sync.Mutex
	initialized bool
}

type SummarizeRequest struct {
	LogPath string
	Suffix  string
	Title   string
	Cadence summary.Cadence
	FPS     float64
	// ClosingPad is the number of extra copies of the final frame; zero or
	// negative selects the default unless NoClosingPad is set.
	ClosingPad   int
	NoClosingPad bool
	PanelWidth   int
	PanelHeight  int
	// AnimationPath overrides the default <stem>.Master.GenerationSummary.gif
	// next to the log.
	AnimationPath string
	KeepFrames    bool
	// FramesDir receives <run id>/gen_*.png stills; empty keeps them in the run directory.
	FramesDir string
	// AllowMissingCompanions downgrades absent Train/Test datasets from an
	// error to a warning.
	AllowMissingCompanions bool

	Renderer summary.Renderer
	Encoder  summary.Encoder
}

type SummarizeResult struct {
	RunID         string
	LogPath       string
	AnimationPath string
	ArtifactsDir  string
	Records       int
	Generations   int
	Snapshots     int
	Frames        int
	Misses        int
	BestFitness   *float64
	AnimationSize int64
}

type SummarizeDirRequest struct {
	Dir string
	// Template is applied to every matching log; its LogPath is ignored.
	Template SummarizeRequest
}

// FileResult is the outcome of one log in a directory scan. Err is set when
// that log failed; other logs are still processed.
type FileResult struct {
	LogPath string
	Result  SummarizeResult
	Err     error
}

type TracksRequest struct {
	LogPath string
	Upto    int
}

type ImprovementsRequest struct {
	LogPath  string
	Operator model.EventType
	// Upto bounds the scan to generations strictly below it; zero means the whole log.
	Upto int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string   `json:"run_id"`
	LogPath      string   `json:"log_path"`
	CreatedAtUTC string   `json:"created_at_utc"`
	Generations  int      `json:"generations"`
	Snapshots    int      `json:"snapshots"`
	Frames       int      `json:"frames"`
	BestFitness  *float64 `json:"best_fitness,omitempty"`
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = defaultOutDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = filepath.Join(outDir, exportsDirName)
	}
	topo := topology.Default()
	switch {
	case opts.Topology != nil:
		topo = *opts.Topology
	case opts.TopologyFile != "":
		loaded, err := topology.LoadFile(opts.TopologyFile)
		if err != nil {
			return nil, err
		}
		topo = loaded
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		topo:       topo,
		topoFile:   opts.TopologyFile,
		log:        logger,
		runsDir:    filepath.Join(outDir, runsDirName),
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) Topology() topology.Topology {
	return c.topo
}

// RunsDir is where per-run artifact directories are written.
func (c *Client) RunsDir() string {
	return c.runsDir
}

// Summarize reconstructs one log, renders its generational summary animation
// and records the run.
func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error) {
	if strings.TrimSpace(req.LogPath) == "" {
		return SummarizeResult{}, errors.New("log path is required")
	}
	req = withSummarizeDefaults(req)
	if err := c.ensureStore(ctx); err != nil {
		return SummarizeResult{}, err
	}
	log := c.log.With("file", req.LogPath)

	records, err := eventlog.Load(eventlog.CSVRowReader{}, req.LogPath, c.topo)
	if err != nil {
		return SummarizeResult{}, err
	}
	log.Debug("log decoded", "records", len(records))

	companions, err := dataset.LoadCompanions(req.LogPath, req.Suffix)
	if err != nil {
		if !req.AllowMissingCompanions || !errors.Is(err, dataset.ErrMissingCompanion) {
			return SummarizeResult{}, err
		}
		log.Warn("companion datasets unavailable", "error", err)
	}

	runID := stats.NewRunID()
	runDir := filepath.Join(c.runsDir, runID)
	animationPath := req.AnimationPath
	if animationPath == "" {
		animationPath = DefaultAnimationPath(req.LogPath, req.Suffix)
	}

	renderer := req.Renderer
	if renderer == nil {
		grid := render.NewGridRenderer(c.topo, req.Title)
		grid.PanelWidth = req.PanelWidth
		grid.PanelHeight = req.PanelHeight
		renderer = grid
	}
	encoder := req.Encoder
	if encoder == nil {
		encoder = render.GIFEncoder{Path: animationPath, Copies: []string{filepath.Join(runDir, stats.AnimationFile)}}
	}

	framePaths := make(map[int]string)
	var sink summary.FrameSink
	if req.KeepFrames {
		framesDir := filepath.Join(runDir, framesDirName)
		if req.FramesDir != "" {
			framesDir = filepath.Join(req.FramesDir, runID)
		}
		sink = func(snap model.Snapshot, frame image.Image) error {
			path := filepath.Join(framesDir, render.FrameName(snap.Generation, snap.Final))
			if err := render.WritePNG(path, frame); err != nil {
				return err
			}
			framePaths[snap.Cutoff] = path
			return nil
		}
	}

	pipeline := &summary.Pipeline{
		Aggregator: summary.NewAggregator(c.topo, req.Cadence, log),
		Renderer:   renderer,
		Encoder:    encoder,
		FPS:        req.FPS,
		ClosingPad: req.ClosingPad,
		Sink:       sink,
	}
	report, err := pipeline.Run(ctx, records)
	if err != nil {
		return SummarizeResult{}, err
	}

	final := report.Snapshots[len(report.Snapshots)-1]
	agents := stats.SummarizeAgents(final)
	best := stats.BestFitness(agents)
	createdAt := time.Now().UTC().Format(time.RFC3339)

	snapshotGens := make([]int, 0, len(report.Snapshots))
	for _, snap := range report.Snapshots {
		snapshotGens = append(snapshotGens, snap.Generation)
	}
	runSummary := stats.RunSummary{
		RunID:               runID,
		LogPath:             req.LogPath,
		AnimationPath:       animationPath,
		Records:             len(records),
		Generations:         report.Generations,
		Snapshots:           len(report.Snapshots),
		Frames:              report.Frames,
		Misses:              report.Misses,
		SnapshotGenerations: snapshotGens,
		BestFitness:         best,
		Agents:              agents,
		CreatedAtUTC:        createdAt,
	}
	if companions.Train.Path != "" {
		train, test := companions.Train.Info(), companions.Test.Info()
		runSummary.Train, runSummary.Test = &train, &test
	}

	artifactsDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:        runID,
			LogPath:      req.LogPath,
			Suffix:       req.Suffix,
			TopologyFile: c.topoFile,
			Slots:        c.topo.Slots,
			CadenceEvery: req.Cadence.Every,
			CadenceFirst: req.Cadence.First,
			FPS:          req.FPS,
			ClosingPad:   req.ClosingPad,
		},
		Summary: runSummary,
		Final:   final,
	})
	if err != nil {
		return SummarizeResult{}, fmt.Errorf("write artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        runID,
		LogPath:      req.LogPath,
		Generations:  report.Generations,
		Snapshots:    len(report.Snapshots),
		Frames:       report.Frames,
		BestFitness:  best,
		CreatedAtUTC: createdAt,
	}); err != nil {
		return SummarizeResult{}, fmt.Errorf("update run index: %w", err)
	}

	if err := c.store.SaveRun(ctx, model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		LogPath:         req.LogPath,
		AnimationPath:   animationPath,
		Records:         len(records),
		Generations:     report.Generations,
		Snapshots:       len(report.Snapshots),
		Frames:          report.Frames,
		Misses:          report.Misses,
		BestFitness:     best,
		CreatedAtUTC:    createdAt,
	}); err != nil {
		return SummarizeResult{}, fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveSnapshots(ctx, runID, snapshotRecords(runID, report.Snapshots, framePaths)); err != nil {
		return SummarizeResult{}, fmt.Errorf("save snapshots: %w", err)
	}

	result := SummarizeResult{
		RunID:         runID,
		LogPath:       req.LogPath,
		AnimationPath: animationPath,
		ArtifactsDir:  artifactsDir,
		Records:       len(records),
		Generations:   report.Generations,
		Snapshots:     len(report.Snapshots),
		Frames:        report.Frames,
		Misses:        report.Misses,
		BestFitness:   best,
	}
	if info, err := os.Stat(animationPath); err == nil {
		result.AnimationSize = info.Size()
	}
	log.Info("summary written",
		"run_id", runID,
		"generations", result.Generations,
		"snapshots", result.Snapshots,
		"frames", result.Frames,
		"fitness_misses", result.Misses,
	)
	return result, nil
}

// SummarizeDir processes every log in Dir whose name ends with the template's
// suffix, in name order. A failing log is reported in its FileResult and does
// not stop the others; the returned error covers only the directory scan.
func (c *Client) SummarizeDir(ctx context.Context, req SummarizeDirRequest) ([]FileResult, error) {
	suffix := req.Template.Suffix
	if suffix == "" {
		suffix = dataset.DefaultLogSuffix
	}
	paths, err := ListLogs(req.Dir, suffix)
	if err != nil {
		return nil, err
	}

	results := make([]FileResult, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		fileReq := req.Template
		fileReq.LogPath = path
		fileReq.Suffix = suffix
		res, err := c.Summarize(ctx, fileReq)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return results, err
			}
			c.log.Error("summary failed", "file", path, "error", err)
		}
		results = append(results, FileResult{LogPath: path, Result: res, Err: err})
	}
	return results, nil
}

func (c *Client) Tracks(_ context.Context, req TracksRequest) (model.FitnessTrack, error) {
	records, err := eventlog.Load(eventlog.CSVRowReader{}, req.LogPath, c.topo)
	if err != nil {
		return model.FitnessTrack{}, err
	}
	track := trace.ExtractFitnessTracks(records, c.topo)
	if req.Upto > 0 {
		track = trace.Upto(track, req.Upto)
	}
	return track, nil
}

func (c *Client) Improvements(_ context.Context, req ImprovementsRequest) (model.Overlay, error) {
	policy, ok := trace.PolicyFor(req.Operator)
	if !ok {
		return model.Overlay{}, fmt.Errorf("%w: %s", ErrUnknownOperator, req.Operator)
	}
	records, err := eventlog.Load(eventlog.CSVRowReader{}, req.LogPath, c.topo)
	if err != nil {
		return model.Overlay{}, err
	}
	track := trace.ExtractFitnessTracks(records, c.topo)
	upto := req.Upto
	if upto <= 0 {
		gens := eventlog.Generations(records)
		upto = 1
		for _, gen := range gens {
			if gen+1 > upto {
				upto = gen + 1
			}
		}
	}
	overlay := trace.Scan(records, upto, track, c.topo, policy)
	return overlay, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			LogPath:      e.LogPath,
			CreatedAtUTC: e.CreatedAtUTC,
			Generations:  e.Generations,
			Snapshots:    e.Snapshots,
			Frames:       e.Frames,
			BestFitness:  e.BestFitness,
		})
	}
	return out, nil
}

// Run returns a stored run and its snapshot digests.
func (c *Client) Run(ctx context.Context, runID string) (model.RunRecord, []model.SnapshotRecord, error) {
	if err := c.ensureStore(ctx); err != nil {
		return model.RunRecord{}, nil, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	if !ok {
		return model.RunRecord{}, nil, fmt.Errorf("run not found: %s", runID)
	}
	snapshots, _, err := c.store.GetSnapshots(ctx, runID)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	return run, snapshots, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// ListLogs returns the files directly inside dir whose names end with suffix,
// sorted by name.
func ListLogs(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// DefaultAnimationPath places the animation next to its log:
// seed1.Master.log becomes seed1.Master.GenerationSummary.gif.
func DefaultAnimationPath(logPath, suffix string) string {
	if suffix == "" {
		suffix = dataset.DefaultLogSuffix
	}
	stem := strings.TrimSuffix(logPath, suffix)
	if strings.HasSuffix(suffix, ".log") {
		stem += strings.TrimSuffix(suffix, ".log")
	}
	return stem + AnimationSuffix
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func withSummarizeDefaults(req SummarizeRequest) SummarizeRequest {
	if req.Suffix == "" {
		req.Suffix = dataset.DefaultLogSuffix
	}
	if req.Cadence == (summary.Cadence{}) {
		req.Cadence = summary.DefaultCadence()
	}
	if req.FPS <= 0 {
		req.FPS = 1
	}
	switch {
	case req.NoClosingPad:
		req.ClosingPad = 0
	case req.ClosingPad <= 0:
		req.ClosingPad = summary.DefaultClosingPad
	}
	if req.PanelWidth <= 0 {
		req.PanelWidth = render.DefaultPanelWidth
	}
	if req.PanelHeight <= 0 {
		req.PanelHeight = render.DefaultPanelHeight
	}
	return req
}

func snapshotRecords(runID string, snapshots []model.Snapshot, framePaths map[int]string) []model.SnapshotRecord {
	out := make([]model.SnapshotRecord, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, model.SnapshotRecord{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           runID,
			Generation:      snap.Generation,
			Cutoff:          snap.Cutoff,
			Final:           snap.Final,
			Mutations:       countAll(snap.Mutation.Xs),
			LocalSearches:   countAll(snap.LocalSearch.Xs),
			BubbleUps:       countAll(snap.BubbleUp.Xs),
			Recombinations:  countAll(snap.Recombination.Xs),
			DegreeCounts:    snap.DegreeCounts,
			Misses:          snap.Mutation.Misses + snap.LocalSearch.Misses + snap.BubbleUp.Misses + snap.Recombination.Misses,
			FramePath:       framePaths[snap.Cutoff],
		})
	}
	return out
}

func countAll(xs [][]int) int {
	total := 0
	for _, list := range xs {
		total += len(list)
	}
	return total
}
