package status

import (
	"github.com/stageflow/stageflow-go/flow"
)

type testJob struct {
	name string
}

func (j *testJob) Name() string          { return j.name }
func (j *testJob) DependsOn(...flow.Job) {}

// sampleReport builds a representative queued report for one sample.
func sampleReport(runID, sampleID string) flow.StatusReport {
	cohort := flow.NewCohort("c")
	s := cohort.CreateDataset("d").AddSample(sampleID)
	return flow.StatusReport{
		RunID:        runID,
		Stage:        "Align",
		AnalysisType: "cram",
		Status:       "queued",
		Target:       s,
		Output:       "/out/align/" + sampleID,
		Jobs:         []flow.Job{&testJob{name: "align " + sampleID}},
		UpstreamJobs: []flow.Job{&testJob{name: "fetch " + sampleID}},
		Meta:         map[string]interface{}{"dataset": "d"},
	}
}
