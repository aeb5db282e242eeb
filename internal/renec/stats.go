package renec

import "time"

// Count pairs a grouping key with the number of records in it.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// RankedEntity is one row of a top-N ranking.
type RankedEntity struct {
	Name    string        `json:"name"`
	Type    CertifierType `json:"type,omitempty"`
	ECCount int           `json:"ecCount"`
}

// ExtractionStats is the aggregate snapshot recomputed from the full corpus.
type ExtractionStats struct {
	GeneratedAt             time.Time             `json:"generatedAt"`
	ECStandards             int                   `json:"ecStandards"`
	Sectors                 int                   `json:"sectors"`
	Committees              int                   `json:"committees"`
	UniqueCertifiers        int                   `json:"uniqueCertifiers"`
	UniqueTrainingCenters   int                   `json:"uniqueTrainingCenters"`
	ECsWithCertifiers       int                   `json:"ecsWithCertifiers"`
	ECsWithTrainingCenters  int                   `json:"ecsWithTrainingCenters"`
	CertifierAssociations   int                   `json:"certifierAssociations"`
	TrainingAssociations    int                   `json:"trainingAssociations"`
	AvgCertifiersPerEC      float64               `json:"avgCertifiersPerEC"`
	AvgECsPerCertifier      float64               `json:"avgECsPerCertifier"`
	MaxECsPerCertifier      int                   `json:"maxECsPerCertifier"`
	CertifiersWith1EC       int                   `json:"certifiersWith1EC"`
	CertifiersWith5PlusECs  int                   `json:"certifiersWith5PlusECs"`
	CertifiersWith10PlusECs int                   `json:"certifiersWith10PlusECs"`
	CertifiersByType        map[CertifierType]int `json:"certifiersByType"`
	StandardsBySector       []Count               `json:"standardsBySector"`
	StandardsByCommittee    []Count               `json:"standardsByCommittee"`
	CommitteesBySector      []Count               `json:"committeesBySector"`
	TopCertifiers           []RankedEntity        `json:"topCertifiers"`
	TopTrainingCenters      []RankedEntity        `json:"topTrainingCenters"`
}

// RegistryEntry is one deduplicated entity in a master registry.
type RegistryEntry struct {
	ID             string        `json:"id"`
	CanonicalName  string        `json:"canonicalName"`
	AlternateNames []string      `json:"alternateNames"`
	NormalizedKey  string        `json:"normalizedKey"`
	EntityType     CertifierType `json:"entityType,omitempty"`
	States         []string      `json:"states,omitempty"`
	ECCodes        []string      `json:"ecCodes"`
	ECCount        int           `json:"ecCount"`
}

// MatrixEntry lists the certifier registry ids that cover one standard.
type MatrixEntry struct {
	Title          string   `json:"title"`
	CertifierIDs   []string `json:"eceIds"`
	CertifierCount int      `json:"eceCount"`
}

// Derived bundles everything recomputed from the corpus after a run.
type Derived struct {
	Stats           ExtractionStats        `json:"stats"`
	Certifiers      []RegistryEntry        `json:"certifiers"`
	TrainingCenters []RegistryEntry        `json:"trainingCenters"`
	Matrix          map[string]MatrixEntry `json:"ecCertifierMatrix"`
}
