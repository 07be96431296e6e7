// Package training implements the lightweight recommender aggregator of
// §4.8: a windowed scan of the dataset manifest that derives per-tool
// parameter recommendations from recently observed job params.
package training

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const manifestTimeLayout = "2006-01-02T15:04:05Z"

type manifestRow struct {
	ToolType   string         `json:"tool_type"`
	CapturedAt string         `json:"captured_at"`
	Params     map[string]any `json:"params"`
}

// Window bounds the scan; callers compute [Start, End] from
// WindowHours, defaulting to the last 48h when unset.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow returns the window [now-windowHours, now]; a windowHours
// below 1 is replaced by 48.
func DefaultWindow(now time.Time, windowHours int) Window {
	if windowHours < 1 {
		windowHours = 48
	}
	return Window{Start: now.Add(-time.Duration(windowHours) * time.Hour), End: now}
}

// Report is the full aggregator output written to
// lightweight-recommenders-<ts>.json.
type Report struct {
	GeneratedAt     string                 `json:"generated_at"`
	WindowStart     string                 `json:"window_start"`
	WindowEnd       string                 `json:"window_end"`
	RowsUsed        int                    `json:"rows_used"`
	Recommendations map[string]interface{} `json:"recommendations"`
}

type stemIsolationRecommendation struct {
	RecommendedStems   int `json:"recommended_stems"`
	RecommendedVariant string `json:"recommended_variant"`
	Samples            int `json:"samples"`
}

type masteringRecommendation struct {
	RecommendedPreset    string  `json:"recommended_preset"`
	RecommendedIntensity float64 `json:"recommended_intensity"`
	Samples              int     `json:"samples"`
}

type midiExtractRecommendation struct {
	RecommendedSensitivity float64 `json:"recommended_sensitivity"`
	Samples                int     `json:"samples"`
}

// Aggregate reads datasetRoot/manifest.jsonl, filters to rows inside
// window, and builds per-tool-group recommendations. Malformed or
// out-of-window rows are skipped without failing the run.
func Aggregate(datasetRoot string, window Window, now time.Time) (*Report, error) {
	rows, err := readManifest(datasetRoot, window)
	if err != nil {
		return nil, err
	}

	byTool := make(map[string][]manifestRow)
	for _, r := range rows {
		byTool[r.ToolType] = append(byTool[r.ToolType], r)
	}

	recs := make(map[string]interface{})
	if group, ok := byTool["stem_isolation"]; ok {
		recs["stem_isolation"] = aggregateStemIsolation(group)
	}
	if group, ok := byTool["mastering"]; ok {
		recs["mastering"] = aggregateMastering(group)
	}
	if group, ok := byTool["midi_extract"]; ok {
		recs["midi_extract"] = aggregateMidiExtract(group)
	}

	return &Report{
		GeneratedAt:     now.UTC().Format(manifestTimeLayout),
		WindowStart:     window.Start.UTC().Format(manifestTimeLayout),
		WindowEnd:       window.End.UTC().Format(manifestTimeLayout),
		RowsUsed:        len(rows),
		Recommendations: recs,
	}, nil
}

// WriteReport marshals report as pretty JSON to
// <datasetRoot>/lightweight-recommenders-<YYYYMMDDTHHMMSSZ>.json and
// returns the path written.
func WriteReport(datasetRoot string, report *Report, now time.Time) (string, error) {
	filename := fmt.Sprintf("lightweight-recommenders-%s.json", now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(datasetRoot, filename)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("training: write report: %w", err)
	}
	return path, nil
}

func readManifest(datasetRoot string, window Window) ([]manifestRow, error) {
	path := filepath.Join(datasetRoot, "manifest.jsonl")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("training: open manifest: %w", err)
	}
	defer f.Close()

	var rows []manifestRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row manifestRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		capturedAt, err := parseTimestamp(row.CapturedAt)
		if err != nil {
			continue
		}
		if capturedAt.Before(window.Start) || capturedAt.After(window.End) {
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("training: scan manifest: %w", err)
	}
	return rows, nil
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if !strings.HasSuffix(v, "Z") {
		v += "Z"
	}
	return time.Parse(manifestTimeLayout, v)
}

func aggregateStemIsolation(rows []manifestRow) stemIsolationRecommendation {
	stemsCounts := make(map[int]int)
	variants := make(map[string]int)
	for _, r := range rows {
		stems := 4
		if v, ok := r.Params["stems"].(float64); ok {
			stems = int(v)
		}
		stemsCounts[stems]++

		variant := "mel_band_roformer"
		if v, ok := r.Params["fallbackModel"].(string); ok && v != "" {
			variant = v
		}
		variants[variant]++
	}
	return stemIsolationRecommendation{
		RecommendedStems:   modeInt(stemsCounts, 4),
		RecommendedVariant: modeString(variants, "mel_band_roformer"),
		Samples:            len(rows),
	}
}

func aggregateMastering(rows []manifestRow) masteringRecommendation {
	presets := make(map[string]int)
	var sum float64
	var count int
	for _, r := range rows {
		preset := "streaming_clean"
		if v, ok := r.Params["preset"].(string); ok && v != "" {
			preset = v
		}
		presets[preset]++

		intensity := 60.0
		if v, ok := r.Params["intensity"].(float64); ok {
			intensity = v
		}
		sum += intensity
		count++
	}
	mean := 60.0
	if count > 0 {
		mean = sum / float64(count)
	}
	return masteringRecommendation{
		RecommendedPreset:    modeString(presets, "streaming_clean"),
		RecommendedIntensity: round(mean, 2),
		Samples:              len(rows),
	}
}

func aggregateMidiExtract(rows []manifestRow) midiExtractRecommendation {
	var sum float64
	var count int
	for _, r := range rows {
		sensitivity := 0.5
		if v, ok := r.Params["sensitivity"].(float64); ok {
			sensitivity = v
		}
		sum += sensitivity
		count++
	}
	mean := 0.5
	if count > 0 {
		mean = sum / float64(count)
	}
	return midiExtractRecommendation{
		RecommendedSensitivity: round(mean, 3),
		Samples:                len(rows),
	}
}

func modeInt(counts map[int]int, def int) int {
	best, bestCount := def, -1
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func modeString(counts map[string]int, def string) string {
	best, bestCount := def, -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func round(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
