package batch

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/model"
)

// schedulerSlack is added to a run's wall-clock limit so the run's own limit
// fires before the scheduler's.
const schedulerSlack = 5 * time.Minute

var jobTemplate = template.Must(template.New("job").Funcs(template.FuncMap{
	"quote": shellQuote,
	"join":  strings.Join,
}).Parse(`#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --output={{quote .Output}}
#SBATCH --error={{quote .Error}}
#SBATCH --ntasks=1
{{- with .Slurm.Partition}}
#SBATCH --partition={{.}}
{{- end}}
{{- with .Slurm.QOS}}
#SBATCH --qos={{.}}
{{- end}}
{{- with .Slurm.MemoryPerCPU}}
#SBATCH --mem-per-cpu={{.}}
{{- end}}
{{- with .Slurm.Email}}
#SBATCH --mail-user={{.}}
#SBATCH --mail-type=END,FAIL
{{- end}}
{{- if .Slurm.Export}}
#SBATCH --export={{join .Slurm.Export ","}}
{{- end}}
{{- if .TimeMinutes}}
#SBATCH --time={{.TimeMinutes}}
{{- end}}

export LABGRID_SUBMISSION_ID={{.SubmissionID}}
{{- range .Slurm.Setup}}
{{.}}
{{- end}}

exec{{range .Command}} {{quote .}}{{end}}
`))

type jobData struct {
	JobName      string
	SubmissionID string
	Output       string
	Error        string
	TimeMinutes  int
	Slurm        config.Slurm
	Command      []string
}

// renderScript writes the job script that executes spec on a compute node.
func renderScript(cfg config.Slurm, executable, submissionID string, spec model.RunSpec) ([]byte, error) {
	d := jobData{
		JobName:      "labgrid-" + submissionID[:8],
		SubmissionID: submissionID,
		Output:       spec.Dir + "/slurm.out",
		Error:        spec.Dir + "/slurm.err",
		Slurm:        cfg,
		Command:      executeCommand(cfg, executable, spec.Dir),
	}
	if spec.Limits.WallClock > 0 {
		d.TimeMinutes = int(math.Ceil((spec.Limits.WallClock + schedulerSlack).Minutes()))
	}
	var buf bytes.Buffer
	if err := jobTemplate.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("rendering job script: %w", err)
	}
	return buf.Bytes(), nil
}

// executeCommand is the command line run on the compute node.
func executeCommand(cfg config.Slurm, executable, dir string) []string {
	cmd := []string{executable, "execute-run"}
	if n := cfg.Notifier; n != nil {
		cmd = append(cmd, "-notify-url", n.URL)
		if n.Path != "" {
			cmd = append(cmd, "-notify-path", n.Path)
		}
		if n.Namespace != "" {
			cmd = append(cmd, "-notify-namespace", n.Namespace)
		}
		if n.Event != "" {
			cmd = append(cmd, "-notify-event", n.Event)
		}
		if n.Insecure {
			cmd = append(cmd, "-notify-insecure")
		}
	}
	return append(cmd, dir)
}

// shellQuote quotes s for a POSIX shell unless it is plainly safe.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,+@%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
