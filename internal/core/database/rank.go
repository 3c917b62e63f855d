package db

import (
	"encoding/binary"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/markdave123-py/kbchat/internal/models"
)

// RRFConstant damps the contribution of top ranks in reciprocal rank fusion.
const RRFConstant = 60

// candidateFactor widens each list before fusion so items ranked low in one
// list but high in the other still make the cut.
const candidateFactor = 4

type scoredChunk struct {
	id string
	models.RetrievedChunk
}

// fuseRRF merges ranked lists with equal weights: score = sum 1/(RRFConstant+rank).
// Ties keep the order in which ids were first seen.
func fuseRRF(k int, lists ...[]scoredChunk) []models.RetrievedChunk {
	type entry struct {
		chunk models.RetrievedChunk
		score float64
		first int
	}
	byID := make(map[string]*entry)
	seen := 0
	for _, list := range lists {
		for rank, c := range list {
			e, ok := byID[c.id]
			if !ok {
				e = &entry{chunk: c.RetrievedChunk, first: seen}
				byID[c.id] = e
				seen++
			}
			e.score += 1.0 / float64(RRFConstant+rank+1)
		}
	}

	entries := make([]*entry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].first < entries[j].first
	})

	out := make([]models.RetrievedChunk, 0, min(k, len(entries)))
	for _, e := range entries {
		if len(out) == k {
			break
		}
		c := e.chunk
		c.Score = e.score
		out = append(out, c)
	}
	return out
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// ftsQuery turns free text into an FTS5 OR-query of quoted terms, so user
// punctuation never reaches the FTS5 parser.
func ftsQuery(text string) string {
	terms := termPattern.FindAllString(strings.ToLower(text), -1)
	if len(terms) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
