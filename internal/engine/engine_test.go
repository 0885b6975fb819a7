package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"hnse/internal/acquire"
	"hnse/internal/bio"
	"hnse/internal/config"
	"hnse/internal/model"
	"hnse/internal/storage"
)

func testHeader() model.BlockHeader {
	return model.BlockHeader{
		Version:    1,
		PrevHash:   "00ff",
		MerkleRoot: "aa00",
		Timestamp:  1700000000,
		Bits:       "1d00ffff",
	}
}

func trivialConfig() config.Config {
	cfg := config.Default()
	// Empty prefix accepts every digest.
	cfg.Target = ""
	return cfg
}

// newTestEngine builds an engine around a pre-initialized memory store
// without starting the background tasks, so outcomes apply synchronously.
func newTestEngine(t *testing.T, cfg config.Config) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	sim, err := bio.NewSimulated(3)
	if err != nil {
		t.Fatalf("simulated adapter: %v", err)
	}
	e, err := New(cfg, acquire.NewSyntheticSource(7), sim, store, 1)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, store
}

func TestNewRejectsBadInputs(t *testing.T) {
	cfg := trivialConfig()
	cfg.ElectrodeCount = 61
	if _, err := New(cfg, acquire.NewSyntheticSource(1), nil, storage.NewMemoryStore(), 1); err == nil {
		t.Fatal("invalid config should fail")
	}
	if _, err := New(trivialConfig(), nil, nil, storage.NewMemoryStore(), 1); err == nil {
		t.Fatal("nil source should fail")
	}
	if _, err := New(trivialConfig(), acquire.NewSyntheticSource(1), nil, nil, 1); err == nil {
		t.Fatal("nil store should fail")
	}
}

func TestMineCycleTrivialTargetSelectsSHA(t *testing.T) {
	e, store := newTestEngine(t, trivialConfig())
	ctx := context.Background()

	result, err := e.MineCycle(ctx, "run", testHeader())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !result.Success {
		t.Fatal("trivial target cycle must succeed")
	}
	// An untrained network and an unconnected culture cannot outscore the
	// digest-entropy confidence of the hash path.
	if result.Triple.Selected != model.ProducerSHA256 {
		t.Fatalf("selected = %s", result.Triple.Selected)
	}
	if result.WinningProducer != model.ProducerSHA256 {
		t.Fatalf("winner = %s", result.WinningProducer)
	}
	if result.DigestHex == "" {
		t.Fatal("missing digest")
	}

	counters := e.coord.Counters()
	if got := counters[model.ProducerSHA256]; got.Selections != 1 || got.Successes != 1 {
		t.Fatalf("sha counter = %+v", got)
	}

	summaries, ok, err := store.GetCycleSummaries(ctx, "run")
	if err != nil || !ok || len(summaries) != 1 {
		t.Fatalf("summaries: ok=%v err=%v n=%d", ok, err, len(summaries))
	}
	if summaries[0].CycleID != result.Triple.CycleID || !summaries[0].Success {
		t.Fatalf("summary = %+v", summaries[0])
	}
}

func TestMineImpossibleTargetRecordsFailures(t *testing.T) {
	cfg := trivialConfig()
	cfg.Target = strings.Repeat("f", 64)
	cfg.CycleTimeoutMs = 1000
	e, store := newTestEngine(t, cfg)
	ctx := context.Background()

	summary, err := e.Mine(ctx, "run", testHeader(), 3)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if summary.Cycles != 3 || summary.Successes != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	total := 0
	for _, counter := range e.coord.Counters() {
		total += counter.Selections
		if counter.Successes != 0 {
			t.Fatalf("failed run must not credit successes: %+v", counter)
		}
	}
	if total != 3 {
		t.Fatalf("selections = %d", total)
	}

	summaries, ok, _ := store.GetCycleSummaries(ctx, "run")
	if !ok || len(summaries) != 3 {
		t.Fatalf("summaries = %d", len(summaries))
	}
	for _, s := range summaries {
		if s.Success || s.WinningProducer != "" {
			t.Fatalf("summary = %+v", s)
		}
	}
}

func TestStartMineStop(t *testing.T) {
	e, _ := newTestEngine(t, trivialConfig())
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	summary, err := e.Mine(ctx, "run", testHeader(), 5)
	if err != nil {
		e.Stop()
		t.Fatalf("mine: %v", err)
	}
	e.Stop()

	if summary.Cycles != 5 || summary.Successes != 5 {
		t.Fatalf("summary = %+v", summary)
	}

	stats := e.Stats()
	total := 0
	for _, counter := range stats.Counters {
		total += counter.Selections
	}
	if total != 5 {
		t.Fatalf("selections after drain = %d", total)
	}
	if len(stats.Tasks) != 0 {
		t.Fatalf("tasks after stop = %+v", stats.Tasks)
	}
	if stats.Bio == nil || stats.Bio.State != bio.Streaming {
		t.Fatalf("bio diag = %+v", stats.Bio)
	}
	if w := stats.Weights.Sum(); w < 0.999 || w > 1.001 {
		t.Fatalf("weights sum = %f", w)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	e1, store := newTestEngine(t, trivialConfig())
	if _, err := e1.Mine(ctx, "run", testHeader(), 3); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if err := e1.SaveState(ctx, "engine"); err != nil {
		t.Fatalf("save: %v", err)
	}

	sim, err := bio.NewSimulated(5)
	if err != nil {
		t.Fatalf("simulated adapter: %v", err)
	}
	e2, err := New(trivialConfig(), acquire.NewSyntheticSource(8), sim, store, 99)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e2.LoadState(ctx, "engine"); err != nil {
		t.Fatalf("load: %v", err)
	}

	features := make([]float64, model.ElectrodeCount)
	for i := range features {
		features[i] = 0.5
	}
	want, err := e1.coord.NetworkSnapshot().PredictNonce(features, nil)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	got, err := e2.coord.NetworkSnapshot().PredictNonce(features, nil)
	if err != nil {
		t.Fatalf("predict restored: %v", err)
	}
	if got.Nonce != want.Nonce || got.Confidence != want.Confidence {
		t.Fatalf("restored prediction %v, want %v", got, want)
	}
	if e2.coord.Weights() != e1.coord.Weights() {
		t.Fatalf("weights %v, want %v", e2.coord.Weights(), e1.coord.Weights())
	}
	if e2.coord.Counters()[model.ProducerSHA256] != e1.coord.Counters()[model.ProducerSHA256] {
		t.Fatal("counters not restored")
	}

	wantExamples := e1.coord.TrainingExamples()
	if len(wantExamples) == 0 {
		t.Fatal("successful cycles must populate the training ring")
	}
	gotExamples := e2.coord.TrainingExamples()
	if len(gotExamples) != len(wantExamples) {
		t.Fatalf("restored %d training examples, want %d", len(gotExamples), len(wantExamples))
	}
	for i := range wantExamples {
		if gotExamples[i].Nonce != wantExamples[i].Nonce {
			t.Fatalf("example %d nonce %#x, want %#x", i, gotExamples[i].Nonce, wantExamples[i].Nonce)
		}
	}
}

func TestLoadStateRejectsTopologyMismatch(t *testing.T) {
	ctx := context.Background()
	e1, store := newTestEngine(t, trivialConfig())
	if err := e1.SaveState(ctx, "engine"); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg := trivialConfig()
	cfg.HiddenLayers = []int{32}
	e2, err := New(cfg, acquire.NewSyntheticSource(8), nil, store, 1)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e2.LoadState(ctx, "engine"); !errors.Is(err, ErrPersistenceMismatch) {
		t.Fatalf("expected ErrPersistenceMismatch, got %v", err)
	}
}

func TestLoadStateNotFound(t *testing.T) {
	e, _ := newTestEngine(t, trivialConfig())
	if err := e.LoadState(context.Background(), "missing"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestLatestSignalsPrefersFreshestFrame(t *testing.T) {
	e, _ := newTestEngine(t, trivialConfig())
	ctx := context.Background()

	if e.latestSignals() != nil {
		t.Fatal("no frames queued yet")
	}

	if err := e.source.Start(ctx, 200); err != nil {
		t.Fatalf("start source: %v", err)
	}
	defer func() { _ = e.source.Stop() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		signals := e.latestSignals()
		if signals != nil {
			if len(signals) != model.ElectrodeCount {
				t.Fatalf("signal width = %d", len(signals))
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
