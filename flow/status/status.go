// Package status records analysis state for pipeline runs.
//
// A reporter receives one record per queued or completed analysis and keeps
// it somewhere useful: memory for tests and single runs, SQLite for local
// persistence, MySQL for shared deployments. All reporters implement
// flow.StatusReporter.
package status

import (
	"time"

	"github.com/stageflow/stageflow-go/flow"
)

// Analysis is the stored form of a status report.
type Analysis struct {
	ID           int64
	RunID        string
	Stage        string
	Type         string
	Status       string
	TargetID     string
	Output       string
	JobNames     []string
	UpstreamJobs []string
	Meta         map[string]interface{}
	CreatedAt    time.Time
}

// fromReport flattens a flow.StatusReport into its stored form. Job handles
// are reduced to their names; the handles themselves belong to the run.
func fromReport(rep flow.StatusReport) Analysis {
	a := Analysis{
		RunID:  rep.RunID,
		Stage:  rep.Stage,
		Type:   rep.AnalysisType,
		Status: rep.Status,
		Output: rep.Output,
		Meta:   rep.Meta,
	}
	if rep.Target != nil {
		a.TargetID = rep.Target.ID()
	}
	for _, j := range rep.Jobs {
		if j != nil {
			a.JobNames = append(a.JobNames, j.Name())
		}
	}
	for _, j := range rep.UpstreamJobs {
		if j != nil {
			a.UpstreamJobs = append(a.UpstreamJobs, j.Name())
		}
	}
	return a
}
