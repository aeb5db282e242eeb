package renec

// Artifact file names written to the output directory.
const (
	FileCommittees       = "committees.json"
	FileStandards        = "ec_standards.json"
	FileCodes            = "ec_codes.json"
	FileStats            = "stats.json"
	FileCertifierIndex   = "master_ece_registry.json"
	FileTrainingIndex    = "master_ccap_registry.json"
	FileMatrix           = "ec_ece_matrix.json"
	FileExtractionReport = "EXTRACTION_REPORT.md"
)

// Artifacts lists the JSON artifacts in the order they are exported.
var Artifacts = []string{
	FileCommittees,
	FileStandards,
	FileCodes,
	FileStats,
	FileCertifierIndex,
	FileTrainingIndex,
	FileMatrix,
}
