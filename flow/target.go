package flow

// Target is the unit a stage processes: a Sample, a Dataset, or the Cohort.
//
// Every target carries two flags consumed by the decision engine:
//   - active: inactive targets are excluded from all stage processing. The
//     engine flips this off permanently when a required-but-skipped stage is
//     missing inputs for the target and the configuration allows dropping it.
//   - forced: forced targets re-run stages even when outputs could be reused.
//
// A target also exposes the flattened set of sample IDs it covers, which the
// engine uses to intersect job handles when wiring cross-stage dependencies.
type Target interface {
	// ID returns the stable identifier, unique within the target's kind.
	ID() string

	// Active reports whether the target participates in stage processing.
	Active() bool

	// SetActive toggles participation. The engine only ever deactivates.
	SetActive(active bool)

	// Forced reports whether the target must re-run stages regardless of
	// reuse eligibility.
	Forced() bool

	// SampleIDs returns the IDs of all samples this target covers, in a
	// stable order. With onlyActive set, inactive samples are excluded.
	SampleIDs(onlyActive bool) []string

	// JobAttrs returns attributes used to tag job handles and analysis
	// records. The engine copies but never interprets them.
	JobAttrs() map[string]string
}

// Sample is the finest-grained target: one sequencing unit.
type Sample struct {
	id      string
	dataset *Dataset
	active  bool
	forced  bool
	meta    map[string]string
}

// ID returns the sample ID.
func (s *Sample) ID() string { return s.id }

// Active reports whether the sample participates in stage processing.
func (s *Sample) Active() bool { return s.active }

// SetActive toggles participation.
func (s *Sample) SetActive(active bool) { s.active = active }

// Forced reports whether the sample must re-run stages.
func (s *Sample) Forced() bool { return s.forced }

// SetForced marks the sample for re-execution regardless of existing outputs.
func (s *Sample) SetForced(forced bool) { s.forced = forced }

// Dataset returns the dataset that owns this sample.
func (s *Sample) Dataset() *Dataset { return s.dataset }

// SampleIDs implements Target; a sample covers only itself.
func (s *Sample) SampleIDs(onlyActive bool) []string {
	if onlyActive && !s.active {
		return nil
	}
	return []string{s.id}
}

// JobAttrs returns the sample's tagging attributes.
func (s *Sample) JobAttrs() map[string]string {
	attrs := map[string]string{"sample": s.id}
	if s.dataset != nil {
		attrs["dataset"] = s.dataset.name
	}
	for k, v := range s.meta {
		attrs[k] = v
	}
	return attrs
}

// SetMeta attaches an extra tagging attribute to the sample.
func (s *Sample) SetMeta(key, value string) {
	if s.meta == nil {
		s.meta = make(map[string]string)
	}
	s.meta[key] = value
}

// String returns the sample ID with its dataset, for logging.
func (s *Sample) String() string {
	if s.dataset != nil {
		return s.dataset.name + "/" + s.id
	}
	return s.id
}

// Dataset is a named, ordered container of samples.
type Dataset struct {
	name    string
	cohort  *Cohort
	samples []*Sample
	active  bool
	forced  bool
}

// ID returns the dataset name.
func (d *Dataset) ID() string { return d.name }

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Active reports whether the dataset participates in stage processing.
func (d *Dataset) Active() bool { return d.active }

// SetActive toggles participation.
func (d *Dataset) SetActive(active bool) { d.active = active }

// Forced reports whether the dataset must re-run stages.
func (d *Dataset) Forced() bool { return d.forced }

// SetForced marks the dataset for re-execution regardless of existing outputs.
func (d *Dataset) SetForced(forced bool) { d.forced = forced }

// AddSample creates a sample in this dataset and returns it.
// Samples start active and not forced.
func (d *Dataset) AddSample(id string) *Sample {
	s := &Sample{id: id, dataset: d, active: true}
	d.samples = append(d.samples, s)
	return s
}

// Samples returns the dataset's samples in insertion order.
// With onlyActive set, inactive samples are excluded.
func (d *Dataset) Samples(onlyActive bool) []*Sample {
	if !onlyActive {
		return append([]*Sample(nil), d.samples...)
	}
	out := make([]*Sample, 0, len(d.samples))
	for _, s := range d.samples {
		if s.active {
			out = append(out, s)
		}
	}
	return out
}

// SampleIDs implements Target.
func (d *Dataset) SampleIDs(onlyActive bool) []string {
	ids := make([]string, 0, len(d.samples))
	for _, s := range d.Samples(onlyActive) {
		ids = append(ids, s.id)
	}
	return ids
}

// JobAttrs returns the dataset's tagging attributes.
func (d *Dataset) JobAttrs() map[string]string {
	return map[string]string{"dataset": d.name}
}

// String returns the dataset name, for logging.
func (d *Dataset) String() string { return d.name }

// Cohort is the coarsest target: every dataset of a workflow run.
type Cohort struct {
	name     string
	datasets []*Dataset
	forced   bool
}

// NewCohort creates an empty cohort identified by name.
func NewCohort(name string) *Cohort {
	return &Cohort{name: name}
}

// ID returns the cohort name.
func (c *Cohort) ID() string { return c.name }

// Name returns the cohort name.
func (c *Cohort) Name() string { return c.name }

// Active always reports true: the cohort as a whole cannot be deactivated.
func (c *Cohort) Active() bool { return true }

// SetActive is a no-op; individual datasets and samples carry the flag.
func (c *Cohort) SetActive(bool) {}

// Forced reports whether the cohort must re-run stages.
func (c *Cohort) Forced() bool { return c.forced }

// SetForced marks the whole cohort for re-execution.
func (c *Cohort) SetForced(forced bool) { c.forced = forced }

// CreateDataset adds a dataset to the cohort and returns it.
// If a dataset with that name already exists it is returned unchanged.
func (c *Cohort) CreateDataset(name string) *Dataset {
	for _, d := range c.datasets {
		if d.name == name {
			return d
		}
	}
	d := &Dataset{name: name, cohort: c, active: true}
	c.datasets = append(c.datasets, d)
	return d
}

// Datasets returns the cohort's datasets in insertion order.
// With onlyActive set, inactive datasets are excluded.
func (c *Cohort) Datasets(onlyActive bool) []*Dataset {
	if !onlyActive {
		return append([]*Dataset(nil), c.datasets...)
	}
	out := make([]*Dataset, 0, len(c.datasets))
	for _, d := range c.datasets {
		if d.active {
			out = append(out, d)
		}
	}
	return out
}

// Samples returns every sample across all datasets, in dataset order.
func (c *Cohort) Samples(onlyActive bool) []*Sample {
	var out []*Sample
	for _, d := range c.Datasets(onlyActive) {
		out = append(out, d.Samples(onlyActive)...)
	}
	return out
}

// SampleIDs implements Target.
func (c *Cohort) SampleIDs(onlyActive bool) []string {
	var ids []string
	for _, s := range c.Samples(onlyActive) {
		ids = append(ids, s.id)
	}
	return ids
}

// JobAttrs returns the cohort's tagging attributes.
func (c *Cohort) JobAttrs() map[string]string {
	return map[string]string{"cohort": c.name}
}

// String returns the cohort name, for logging.
func (c *Cohort) String() string { return c.name }
