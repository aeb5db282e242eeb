// Package renec holds the domain model shared by the harvester: committee and
// competency-standard records, the corpus they form, the checkpoint record
// that makes stages resumable, and the collaborator interfaces (fetchers,
// stores) that the extraction pipeline is wired against.
package renec
