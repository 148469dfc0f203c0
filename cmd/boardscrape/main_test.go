package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/boardscrape/internal/config"
	"github.com/IshaanNene/boardscrape/internal/engine"
	"github.com/IshaanNene/boardscrape/pkg/boardscrape"
)

func TestApplyCLIOverrides(t *testing.T) {
	outputPath, targetCount, workers, delay, noResume = "out/", 10, 3, "250ms", true
	t.Cleanup(func() {
		outputPath, targetCount, workers, delay, noResume = "", -1, 0, "", false
	})

	cfg := config.DefaultConfig()
	if err := applyCLIOverrides(cfg); err != nil {
		t.Fatalf("applyCLIOverrides: %v", err)
	}
	if cfg.Storage.OutputPath != "out" || cfg.Engine.TargetCount != 10 || cfg.Engine.Workers != 3 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Storage, cfg.Engine)
	}
	if cfg.Engine.PolitenessDelay != 250*time.Millisecond || cfg.Engine.Resume {
		t.Errorf("delay=%v resume=%v", cfg.Engine.PolitenessDelay, cfg.Engine.Resume)
	}
	if cfg.Engine.SaveEvery != 5 {
		t.Errorf("unset flag changed save_every to %d", cfg.Engine.SaveEvery)
	}

	delay = "soon"
	if err := applyCLIOverrides(config.DefaultConfig()); err == nil {
		t.Error("expected error for bad --delay")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &boardscrape.Result{
		Board:     "Test",
		StorePath: "output/ptt_Test.json",
		Summary: &engine.Summary{
			State:           "done",
			StopReason:      "target_count",
			Records:         12,
			Fetched:         11,
			Failed:          1,
			SessionRestarts: 2,
		},
	})
	out := buf.String()
	for _, want := range []string{"Test: done (target_count)", "12 total, 11 fetched", "1 failed", "2 restarts", "ptt_Test.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
