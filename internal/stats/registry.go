package stats

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// BuildRegistries returns the deduplicated certifier (ECE-00001...) and
// training centre (CCAP-00001...) registries. Entries are sorted by EC count
// descending, then canonical name; ids follow that order.
func BuildRegistries(corpus renec.Corpus) (certifiers, trainingCenters []renec.RegistryEntry) {
	return buildRegistry(certifierTally(corpus), "ECE", true), buildRegistry(trainingTally(corpus), "CCAP", false)
}

func buildRegistry(t *tally, prefix string, typed bool) []renec.RegistryEntry {
	out := make([]renec.RegistryEntry, 0, len(t.order))
	for _, e := range t.order {
		canonical := canonicalName(e.names)
		alternates := make([]string, 0, len(e.names)-1)
		for _, n := range e.names {
			if n != canonical {
				alternates = append(alternates, n)
			}
		}
		sort.Strings(alternates)
		codes := append([]string(nil), e.codes...)
		sort.Strings(codes)
		entry := renec.RegistryEntry{
			CanonicalName:  canonical,
			AlternateNames: alternates,
			NormalizedKey:  e.key,
			States:         append([]string(nil), e.states...),
			ECCodes:        codes,
			ECCount:        len(codes),
		}
		if typed {
			entry.EntityType = e.typ
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ECCount != out[j].ECCount {
			return out[i].ECCount > out[j].ECCount
		}
		return out[i].CanonicalName < out[j].CanonicalName
	})
	for i := range out {
		out[i].ID = fmt.Sprintf("%s-%05d", prefix, i+1)
	}
	return out
}

// BuildMatrix maps every standard code to the ids of the registry certifiers
// listed on it, sorted and deduplicated. Standards without certifiers get an
// empty entry.
func BuildMatrix(corpus renec.Corpus, certifiers []renec.RegistryEntry) map[string]renec.MatrixEntry {
	idByKey := make(map[string]string, len(certifiers))
	for _, e := range certifiers {
		idByKey[e.NormalizedKey] = e.ID
	}
	out := make(map[string]renec.MatrixEntry, len(corpus.Standards))
	for _, std := range corpus.Standards {
		seen := make(map[string]struct{}, len(std.Certifiers))
		ids := make([]string, 0, len(std.Certifiers))
		for _, c := range std.Certifiers {
			id, ok := idByKey[NormalizeName(c.Name)]
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[std.Code] = renec.MatrixEntry{Title: std.Title, CertifierIDs: ids, CertifierCount: len(ids)}
	}
	return out
}

// canonicalName picks the longest spelling; the earliest wins ties.
func canonicalName(names []string) string {
	best := ""
	for _, n := range names {
		if len([]rune(n)) > len([]rune(best)) {
			best = n
		}
	}
	return best
}
