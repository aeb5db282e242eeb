// Package stats derives aggregate statistics and deduplicated registries from
// a corpus snapshot. Everything here is a pure function of its input.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// DefaultTopN is the ranking length used when Options.TopN is not set.
const DefaultTopN = 20

const unspecified = "unspecified"

// Options tunes Compute.
type Options struct {
	TopN int
	Now  time.Time
}

// Compute recomputes every statistic from corpus.
func Compute(corpus renec.Corpus, opts Options) renec.ExtractionStats {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	out := renec.ExtractionStats{
		GeneratedAt:      opts.Now,
		ECStandards:      len(corpus.Standards),
		Committees:       len(corpus.Committees),
		CertifiersByType: make(map[renec.CertifierType]int, len(renec.CertifierTypes)),
	}
	for _, t := range renec.CertifierTypes {
		out.CertifiersByType[t] = 0
	}

	certs := certifierTally(corpus)
	centers := trainingTally(corpus)

	for _, std := range corpus.Standards {
		if n := distinctNames(std.Certifiers); n > 0 {
			out.ECsWithCertifiers++
			out.CertifierAssociations += n
		}
		if n := distinctCenters(std.TrainingCenters); n > 0 {
			out.ECsWithTrainingCenters++
			out.TrainingAssociations += n
		}
	}

	out.UniqueCertifiers = len(certs.order)
	out.UniqueTrainingCenters = len(centers.order)
	for _, e := range certs.order {
		out.CertifiersByType[e.typ]++
		n := len(e.codes)
		if n > out.MaxECsPerCertifier {
			out.MaxECsPerCertifier = n
		}
		switch {
		case n >= 10:
			out.CertifiersWith10PlusECs++
			out.CertifiersWith5PlusECs++
		case n >= 5:
			out.CertifiersWith5PlusECs++
		case n == 1:
			out.CertifiersWith1EC++
		}
	}
	out.AvgCertifiersPerEC = ratio(out.CertifierAssociations, out.ECStandards)
	out.AvgECsPerCertifier = ratio(out.CertifierAssociations, out.UniqueCertifiers)

	out.TopCertifiers = top(certs, opts.TopN, true)
	out.TopTrainingCenters = top(centers, opts.TopN, false)

	standardSectors := newCounter()
	standardCommittees := newCounter()
	committeeSectors := newCounter()
	allSectors := make(map[string]struct{})
	for _, std := range corpus.Standards {
		standardSectors.add(std.Sector)
		standardCommittees.add(std.Committee)
		if k := sectorKey(std.Sector); k != "" {
			allSectors[k] = struct{}{}
		}
	}
	for _, com := range corpus.Committees {
		committeeSectors.add(com.Sector)
		if k := sectorKey(com.Sector); k != "" {
			allSectors[k] = struct{}{}
		}
	}
	out.Sectors = len(allSectors)
	out.StandardsBySector = standardSectors.sorted()
	out.StandardsByCommittee = standardCommittees.sorted()
	out.CommitteesBySector = committeeSectors.sorted()
	return out
}

// Derive computes statistics, both registries and the EC to certifier
// matrix.
func Derive(corpus renec.Corpus, opts Options) renec.Derived {
	certs, centers := BuildRegistries(corpus)
	return renec.Derived{
		Stats:           Compute(corpus, opts),
		Certifiers:      certs,
		TrainingCenters: centers,
		Matrix:          BuildMatrix(corpus, certs),
	}
}

func distinctNames(certs []renec.Certifier) int {
	seen := make(map[string]struct{}, len(certs))
	for _, c := range certs {
		if k := NormalizeName(c.Name); k != "" {
			seen[k] = struct{}{}
		}
	}
	return len(seen)
}

func distinctCenters(centers []renec.TrainingCenter) int {
	seen := make(map[string]struct{}, len(centers))
	for _, c := range centers {
		if k := NormalizeName(c.Name); k != "" {
			seen[k] = struct{}{}
		}
	}
	return len(seen)
}

// ratio returns num/den rounded to two decimals, or 0 when den is 0.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*100) / 100
}

func top(t *tally, n int, typed bool) []renec.RankedEntity {
	ranked := t.ranked()
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]renec.RankedEntity, 0, len(ranked))
	for _, e := range ranked {
		row := renec.RankedEntity{Name: e.names[0], ECCount: len(e.codes)}
		if typed {
			row.Type = e.typ
		}
		out = append(out, row)
	}
	return out
}

// counter groups labels case-insensitively, remembering the first spelling.
type counter struct {
	labels map[string]string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{labels: make(map[string]string), counts: make(map[string]int)}
}

func (c *counter) add(label string) {
	key := sectorKey(label)
	if key == "" {
		key = unspecified
		label = unspecified
	}
	if _, ok := c.labels[key]; !ok {
		c.labels[key] = label
	}
	c.counts[key]++
}

// sorted returns the groups by count descending, then label ascending.
func (c *counter) sorted() []renec.Count {
	out := make([]renec.Count, 0, len(c.counts))
	for key, n := range c.counts {
		out = append(out, renec.Count{Key: c.labels[key], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
