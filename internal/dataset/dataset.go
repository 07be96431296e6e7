// Package dataset implements the implied-use training-sample ledger
// described in §4.7: a best-effort, metadata-preserving copy of a
// completed job's input and outputs into a content-hashed sample
// directory, with the same metadata appended to a JSON-lines manifest.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05Z"

// CaptureMode is the only supported dataset capture mode.
const CaptureMode = "implied_use"

// fileRef records the identity of one copied file.
type fileRef struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type features struct {
	InputSizeBytes        int64 `json:"inputSizeBytes"`
	OutputCount           int   `json:"outputCount"`
	OutputSizeBytesTotal  int64 `json:"outputSizeBytesTotal"`
	OutputSizeBytesAvg    int64 `json:"outputSizeBytesAverage"`
}

type outcome struct {
	OutputCount int `json:"output_count"`
}

type metadata struct {
	SampleID          string         `json:"sample_id"`
	JobID             string         `json:"job_id"`
	SessionFingerprint string        `json:"session_fingerprint"`
	ToolType          string         `json:"tool_type"`
	CaptureMode       string         `json:"capture_mode"`
	PolicyVersion     string         `json:"policy_version"`
	CapturedAt        string         `json:"captured_at"`
	RawExpiresAt      string         `json:"raw_expires_at"`
	DerivedExpiresAt  string         `json:"derived_expires_at"`
	Input             fileRef        `json:"input"`
	Outputs           []fileRef      `json:"outputs"`
	Params            map[string]any `json:"params"`
	Outcome           outcome        `json:"outcome"`
	Features          features       `json:"features"`
}

// Request carries everything CaptureTrainingSample needs to build one
// sample directory and manifest row.
type Request struct {
	DatasetRoot          string
	JobID                string
	ToolType             string
	SourceSessionID      string
	PolicyVersion        string
	SessionSalt          string
	RawRetentionDays     int
	DerivedRetentionDays int
	InputPath            string
	OutputPaths          []string
	Params               map[string]any
}

// Ledger serializes manifest.jsonl appends across concurrent captures.
type Ledger struct {
	mu sync.Mutex
}

// New returns a Ledger ready to capture samples.
func New() *Ledger {
	return &Ledger{}
}

// Capture implements the §4.7 algorithm. Failures are returned to the
// caller, who per spec must treat them as best-effort (log, do not fail
// the job). On failure Capture itself removes the partially written
// sample directory unless its metadata.json was already written.
func (l *Ledger) Capture(req Request) (sampleID string, err error) {
	sampleID = uuid.NewString()
	sampleDir := filepath.Join(req.DatasetRoot, "samples", sampleID)
	if err := os.MkdirAll(sampleDir, 0o755); err != nil {
		return sampleID, fmt.Errorf("dataset: create sample dir: %w", err)
	}

	defer func() {
		if err != nil {
			metaPath := filepath.Join(sampleDir, "metadata.json")
			if _, statErr := os.Stat(metaPath); statErr != nil {
				_ = os.RemoveAll(sampleDir)
			}
		}
	}()

	inputRef, inputSize, err := copyAndHash(req.InputPath, sampleDir)
	if err != nil {
		return sampleID, fmt.Errorf("dataset: copy input: %w", err)
	}

	outputs := make([]fileRef, 0, len(req.OutputPaths))
	var outputTotal int64
	for _, p := range req.OutputPaths {
		ref, size, err := copyAndHash(p, sampleDir)
		if err != nil {
			return sampleID, fmt.Errorf("dataset: copy output %s: %w", p, err)
		}
		outputs = append(outputs, ref)
		outputTotal += size
	}

	rawDays := req.RawRetentionDays
	if rawDays < 1 {
		rawDays = 90
	}
	derivedDays := req.DerivedRetentionDays
	if derivedDays < rawDays {
		derivedDays = rawDays
	}
	if derivedDays < 1 {
		derivedDays = 365
	}

	capturedAt := time.Now().UTC()

	var avg int64
	if len(outputs) > 0 {
		avg = outputTotal / int64(len(outputs))
	}

	meta := metadata{
		SampleID:           sampleID,
		JobID:              req.JobID,
		SessionFingerprint: sessionFingerprint(req.SessionSalt, req.SourceSessionID),
		ToolType:           req.ToolType,
		CaptureMode:        CaptureMode,
		PolicyVersion:      req.PolicyVersion,
		CapturedAt:         capturedAt.Format(timeLayout),
		RawExpiresAt:       capturedAt.AddDate(0, 0, rawDays).Format(timeLayout),
		DerivedExpiresAt:   capturedAt.AddDate(0, 0, derivedDays).Format(timeLayout),
		Input:              inputRef,
		Outputs:            outputs,
		Params:             req.Params,
		Outcome:            outcome{OutputCount: len(outputs)},
		Features: features{
			InputSizeBytes:       inputSize,
			OutputCount:          len(outputs),
			OutputSizeBytesTotal: outputTotal,
			OutputSizeBytesAvg:   avg,
		},
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return sampleID, fmt.Errorf("dataset: encode metadata: %w", err)
	}
	metaPath := filepath.Join(sampleDir, "metadata.json")
	tmpMetaPath := fmt.Sprintf("%s.tmp-%d-%s", metaPath, os.Getpid(), uuid.NewString())
	if err := os.WriteFile(tmpMetaPath, metaBytes, 0o644); err != nil {
		os.Remove(tmpMetaPath)
		return sampleID, fmt.Errorf("dataset: write metadata: %w", err)
	}
	if err := os.Rename(tmpMetaPath, metaPath); err != nil {
		os.Remove(tmpMetaPath)
		return sampleID, fmt.Errorf("dataset: rename metadata into place: %w", err)
	}

	lineBytes, err := json.Marshal(meta)
	if err != nil {
		return sampleID, fmt.Errorf("dataset: encode manifest row: %w", err)
	}
	if err := l.appendManifest(req.DatasetRoot, lineBytes); err != nil {
		return sampleID, err
	}

	return sampleID, nil
}

func (l *Ledger) appendManifest(datasetRoot string, line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(datasetRoot, 0o755); err != nil {
		return fmt.Errorf("dataset: create dataset root: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(datasetRoot, "manifest.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dataset: open manifest: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("dataset: append manifest: %w", err)
	}
	return nil
}

func sessionFingerprint(salt, sessionID string) string {
	sum := sha256.Sum256([]byte(salt + ":" + sessionID))
	return hex.EncodeToString(sum[:])
}

// copyAndHash performs a metadata-preserving copy of src into dstDir and
// returns its identity plus byte size.
func copyAndHash(src, dstDir string) (fileRef, int64, error) {
	name := filepath.Base(src)
	dst := filepath.Join(dstDir, name)

	in, err := os.Open(src)
	if err != nil {
		return fileRef{}, 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fileRef{}, 0, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fileRef{}, 0, err
	}
	defer out.Close()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), in); err != nil {
		return fileRef{}, 0, err
	}
	if err := out.Chmod(info.Mode()); err != nil {
		return fileRef{}, 0, err
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fileRef{}, 0, err
	}

	return fileRef{Name: name, Path: dst, SHA256: hex.EncodeToString(hasher.Sum(nil))}, info.Size(), nil
}
