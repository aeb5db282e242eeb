// Package report renders extraction progress and statistics for humans:
// console tables for the status command and the markdown extraction report.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/JakeFAU/renec-harvester/internal/fsutil"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

const (
	maxFailedListed = 20
	maxTopListed    = 15
	maxNameWidth    = 55
)

var printer = message.NewPrinter(language.English)

func num(n int) string {
	return printer.Sprintf("%d", n)
}

// StageStatus summarises the checkpoint of one stage.
type StageStatus struct {
	Stage        renec.Stage
	Present      bool
	Mode         renec.Mode
	RunID        string
	Total        int
	Succeeded    int
	Skipped      int
	Failed       []string
	LastBatch    int
	TotalBatches int
	UpdatedAt    time.Time
}

// StatusFromCheckpoint summarises rec; a nil rec means no run is pending.
func StatusFromCheckpoint(stage renec.Stage, rec *renec.CheckpointRecord) StageStatus {
	if rec == nil {
		return StageStatus{Stage: stage}
	}
	return StageStatus{
		Stage:        stage,
		Present:      true,
		Mode:         rec.Mode,
		RunID:        rec.RunID,
		Total:        rec.Total,
		Succeeded:    rec.Count(renec.OutcomeSuccess),
		Skipped:      rec.Count(renec.OutcomeSkipped),
		Failed:       rec.Failed(),
		LastBatch:    rec.LastBatch,
		TotalBatches: rec.TotalBatches,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// Processed counts identifiers with a recorded outcome.
func (s StageStatus) Processed() int {
	return s.Succeeded + s.Skipped + len(s.Failed)
}

// Percent is the processed share of the work list, 0 when it is empty.
// Outcomes carried over from an earlier work list can exceed Total, so the
// share is capped at 100.
func (s StageStatus) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return min(float64(s.Processed())*100/float64(s.Total), 100)
}

// Pending reports whether the stage checkpoint still has work for --resume:
// identifiers without an outcome or identifiers that failed.
func (s StageStatus) Pending() bool {
	return s.Present && (!s.Complete() || len(s.Failed) > 0)
}

// Complete reports whether every identifier has an outcome.
func (s StageStatus) Complete() bool {
	return s.Present && s.Total > 0 && s.Processed() >= s.Total
}

func (s StageStatus) state() string {
	switch {
	case !s.Present:
		return "no pending run"
	case s.Complete() && len(s.Failed) > 0:
		return "finished with failures"
	case s.Complete():
		return "finished"
	default:
		return "in progress"
	}
}

// RenderStatus writes one row per stage.
func RenderStatus(w io.Writer, rows []StageStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Stage", "State", "Mode", "Processed", "Progress", "Failed", "Batches", "Last update"})
	for _, s := range rows {
		if !s.Present {
			t.AppendRow(table.Row{s.Stage, s.state(), "-", "-", "-", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			s.Stage,
			s.state(),
			s.Mode,
			fmt.Sprintf("%s/%s", num(s.Processed()), num(s.Total)),
			fmt.Sprintf("%.1f%%", s.Percent()),
			num(len(s.Failed)),
			fmt.Sprintf("%d/%d", s.LastBatch, s.TotalBatches),
			s.UpdatedAt.Format(time.RFC3339),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

// RenderStats writes the key metrics and the top certifiers.
func RenderStats(w io.Writer, s renec.ExtractionStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Extraction statistics")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows(metricRows(s))
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.SetStyle(table.StyleLight)
	t.Render()

	if len(s.TopCertifiers) == 0 {
		return
	}
	top := table.NewWriter()
	top.SetOutputMirror(w)
	top.SetTitle("Top certifiers")
	top.AppendHeader(table.Row{"#", "Certifier", "Type", "ECs"})
	top.AppendRows(topRows(s.TopCertifiers, true))
	top.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
	top.SetStyle(table.StyleLight)
	top.Render()
}

func metricRows(s renec.ExtractionStats) []table.Row {
	rows := []table.Row{
		{"EC standards", num(s.ECStandards)},
		{"Sectors", num(s.Sectors)},
		{"Committees", num(s.Committees)},
		{"Unique certifiers", num(s.UniqueCertifiers)},
		{"Unique training centres", num(s.UniqueTrainingCenters)},
		{"ECs with certifiers", num(s.ECsWithCertifiers)},
		{"ECs with training centres", num(s.ECsWithTrainingCenters)},
		{"Certifier-EC associations", num(s.CertifierAssociations)},
		{"Training-EC associations", num(s.TrainingAssociations)},
		{"Avg certifiers per EC", fmt.Sprintf("%.2f", s.AvgCertifiersPerEC)},
		{"Avg ECs per certifier", fmt.Sprintf("%.2f", s.AvgECsPerCertifier)},
		{"Max ECs per certifier", num(s.MaxECsPerCertifier)},
		{"Certifiers with 1 EC", num(s.CertifiersWith1EC)},
		{"Certifiers with 5+ ECs", num(s.CertifiersWith5PlusECs)},
		{"Certifiers with 10+ ECs", num(s.CertifiersWith10PlusECs)},
	}
	for _, typ := range renec.CertifierTypes {
		rows = append(rows, table.Row{"Certifiers of type " + string(typ), num(s.CertifiersByType[typ])})
	}
	return rows
}

func topRows(ranked []renec.RankedEntity, typed bool) []table.Row {
	rows := make([]table.Row, 0, min(len(ranked), maxTopListed))
	for i, e := range ranked {
		if i == maxTopListed {
			break
		}
		row := table.Row{i + 1, truncate(e.Name, maxNameWidth)}
		if typed {
			row = append(row, string(e.Type))
		}
		rows = append(rows, append(row, num(e.ECCount)))
	}
	return rows
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

// File describes one artifact listed in the report.
type File struct {
	Name        string
	Description string
	Records     int
}

// Input is everything the markdown report shows.
type Input struct {
	GeneratedAt time.Time
	Stats       renec.ExtractionStats
	Stages      []StageStatus
	Files       []File
}

// Markdown renders the extraction report.
func Markdown(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# RENEC Extraction Report\n\n")
	fmt.Fprintf(&b, "**Generated**: %s\n\n", in.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**Status**: %s\n\n---\n\n", overallStatus(in.Stages))

	b.WriteString("## Key Metrics\n\n")
	b.WriteString(markdownTable(table.Row{"Metric", "Value"}, metricRows(in.Stats)))

	b.WriteString("\n## Top Certifiers\n\n")
	if len(in.Stats.TopCertifiers) == 0 {
		b.WriteString("_No certifiers harvested yet._\n")
	} else {
		b.WriteString(markdownTable(table.Row{"Rank", "Certifier", "Type", "ECs"}, topRows(in.Stats.TopCertifiers, true)))
	}

	b.WriteString("\n## Top Training Centres\n\n")
	if len(in.Stats.TopTrainingCenters) == 0 {
		b.WriteString("_No training centres harvested yet._\n")
	} else {
		b.WriteString(markdownTable(table.Row{"Rank", "Training centre", "ECs"}, topRows(in.Stats.TopTrainingCenters, false)))
	}

	b.WriteString("\n## Extraction Status\n\n")
	rows := make([]table.Row, 0, len(in.Stages))
	for _, s := range in.Stages {
		if !s.Present {
			rows = append(rows, table.Row{s.Stage, s.state(), "-", "-", "-"})
			continue
		}
		rows = append(rows, table.Row{
			s.Stage, s.state(), num(s.Succeeded), num(s.Skipped), num(len(s.Failed)),
		})
	}
	b.WriteString(markdownTable(table.Row{"Stage", "State", "Succeeded", "Skipped", "Failed"}, rows))

	for _, s := range in.Stages {
		if len(s.Failed) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### Failed %s identifiers (first %d)\n\n```\n%s\n```\n",
			s.Stage, maxFailedListed, strings.Join(s.Failed[:min(len(s.Failed), maxFailedListed)], ", "))
		if extra := len(s.Failed) - maxFailedListed; extra > 0 {
			fmt.Fprintf(&b, "\n*...and %s more*\n", num(extra))
		}
	}

	if len(in.Files) > 0 {
		b.WriteString("\n## Output Files\n\n")
		rows := make([]table.Row, 0, len(in.Files))
		for _, f := range in.Files {
			rows = append(rows, table.Row{"`" + f.Name + "`", f.Description, num(f.Records)})
		}
		b.WriteString(markdownTable(table.Row{"File", "Description", "Records"}, rows))
	}
	return b.String()
}

// WriteMarkdown renders the report into dir and returns its path.
func WriteMarkdown(dir string, in Input) (string, error) {
	path := filepath.Join(dir, renec.FileExtractionReport)
	if err := fsutil.WriteFileAtomic(path, []byte(Markdown(in))); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func markdownTable(header table.Row, rows []table.Row) string {
	t := table.NewWriter()
	t.AppendHeader(header)
	t.AppendRows(rows)
	return t.RenderMarkdown() + "\n"
}

func overallStatus(stages []StageStatus) string {
	pending := 0
	for _, s := range stages {
		if s.Pending() {
			pending++
		}
	}
	if pending > 0 {
		return fmt.Sprintf("In progress (%d stage(s) pending)", pending)
	}
	return "Complete"
}
