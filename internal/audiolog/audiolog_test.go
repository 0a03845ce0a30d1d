package audiolog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForFiles(t *testing.T, dir string, want int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.raw"))
		if len(matches) >= want {
			return matches
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d .raw files in %s", want, dir)
	return nil
}

func TestSaveWritesRawMetaAndWAV(t *testing.T) {
	dir := t.TempDir()
	sink := New(Config{Enabled: true, OutputDir: dir, MaxFiles: 100, SampleRate: 16000}, 4)
	defer sink.Shutdown()

	samples := make([]float32, 1600) // 100ms @ 16kHz
	for i := range samples {
		samples[i] = 0.1
	}
	sink.Save(7, samples, 16000)

	raws := waitForFiles(t, dir, 1, time.Second)
	rawPath := raws[0]

	info, err := os.Stat(rawPath)
	if err != nil {
		t.Fatalf("stat raw: %v", err)
	}
	if info.Size() != int64(len(samples)*4) {
		t.Errorf("raw file size = %d, want %d", info.Size(), len(samples)*4)
	}

	metaPath := rawPath[:len(rawPath)-len(filepath.Ext(rawPath))] + ".meta"
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var m metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if m.SessionID != 7 || m.Samples != len(samples) || m.DataType != "float32" || m.Channels != 1 {
		t.Errorf("unexpected metadata: %+v", m)
	}

	wavPath := rawPath[:len(rawPath)-len(filepath.Ext(rawPath))] + ".wav"
	if _, err := os.Stat(wavPath); err != nil {
		t.Errorf("expected wav sidecar at %s: %v", wavPath, err)
	}
}

func TestSaveNoOpWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	sink := New(Config{Enabled: false, OutputDir: dir, MaxFiles: 100, SampleRate: 16000}, 4)
	defer sink.Shutdown()

	sink.Save(1, []float32{0.1, 0.2}, 16000)
	time.Sleep(20 * time.Millisecond)

	matches, _ := filepath.Glob(filepath.Join(dir, "*.raw"))
	if len(matches) != 0 {
		t.Errorf("expected no files written when disabled, found %v", matches)
	}
}

func TestCleanupOldFilesRetainsOnlyMaxFiles(t *testing.T) {
	dir := t.TempDir()
	sink := New(Config{Enabled: true, OutputDir: dir, MaxFiles: 2, SampleRate: 16000}, 1)
	defer sink.Shutdown()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, rawName(i)), []byte{0, 1, 2, 3}, 0o644); err != nil {
			t.Fatalf("seed file %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond) // ensure distinct mtimes for ctime-order cleanup
	}

	sink.cleanupOldFiles(sink.cfg)

	matches, _ := filepath.Glob(filepath.Join(dir, "*.raw"))
	if len(matches) != 2 {
		t.Fatalf("expected 2 files to remain, found %d: %v", len(matches), matches)
	}
}

func rawName(i int) string {
	return "audio_seed_" + string(rune('a'+i)) + "_session_1.raw"
}
