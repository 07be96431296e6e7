package stems

import (
	"path/filepath"
	"strings"
)

// canonicalOrder is the ordered four-stem set traversed during
// canonicalization.
var canonicalOrder = []string{"vocals", "drums", "bass", "other"}

var keywords = map[string][]string{
	"vocals":        {"vocals", "vocal", "vox", "voice", "lead"},
	"drums":         {"drums", "drum", "percussion", "beat", "kick", "snare"},
	"bass":          {"bass", "low", "sub"},
	"other":         {"other", "music", "instrumental", "inst", "accompaniment"},
	"accompaniment": {"accompaniment", "instrumental", "inst", "music", "other", "minus_vocals", "no_vocals"},
}

// candidateFile represents one file produced by a separator run, tagged
// with its lowercased file stem for keyword matching.
type candidateFile struct {
	path string
	stem string
}

func newCandidates(paths []string) []candidateFile {
	out := make([]candidateFile, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
		out = append(out, candidateFile{path: p, stem: stem})
	}
	return out
}

func matches(stem string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(stem, kw) {
			return true
		}
	}
	return false
}

// findAndRemove returns the first remaining candidate matching kind's
// keywords, removing it from pool, or ("", false).
func findAndRemove(pool *[]candidateFile, kind string) (string, bool) {
	kws := keywords[kind]
	for i, c := range *pool {
		if matches(c.stem, kws) {
			path := c.path
			*pool = append((*pool)[:i], (*pool)[i+1:]...)
			return path, true
		}
	}
	return "", false
}

// find returns the first candidate matching kind's keywords without
// mutating the pool.
func find(pool []candidateFile, kind string) (string, bool) {
	kws := keywords[kind]
	for _, c := range pool {
		if matches(c.stem, kws) {
			return c.path, true
		}
	}
	return "", false
}
