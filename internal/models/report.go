package models

import "time"

// Tally counts decisions for one cluster
type Tally struct {
	Keep      int `json:"keep"`
	Delete    int `json:"candidate_delete"`
	Ignore    int `json:"ignore"`
	Protected int `json:"protected"` // candidates kept because of the baseline
	Malformed int `json:"malformed"` // managed names skipped under the skip policy
}

// ClusterPlan is the reconciliation result for one cluster
type ClusterPlan struct {
	Cluster    string              `json:"cluster"`
	Host       string              `json:"host"`
	Tally      Tally               `json:"tally"`
	Candidates []DeletionCandidate `json:"candidates"`
}

// ClusterResult is a plan or the failure that prevented it
type ClusterResult struct {
	Cluster     string       `json:"cluster"`
	Plan        *ClusterPlan `json:"plan,omitempty"`
	ScriptPath  string       `json:"script_path,omitempty"`
	StaleScript string       `json:"stale_script,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Report is the complete output structure of one run
type Report struct {
	Tool     string          `json:"tool"`
	Version  string          `json:"version"`
	Metadata Metadata        `json:"metadata"`
	Clusters []ClusterResult `json:"clusters"`
}

// Metadata contains run info
type Metadata struct {
	GeneratedAt   time.Time `json:"generated_at"`
	Cutoff        time.Time `json:"cutoff"`
	RetentionDays int       `json:"retention_days"`
	Timezone      string    `json:"timezone"`
	RegistrySize  int       `json:"registry_size"`
	Duration      string    `json:"duration"`
	DryRun        bool      `json:"dry_run"`
}

// TotalCandidates sums candidates over every successful cluster.
func (r *Report) TotalCandidates() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, c := range r.Clusters {
		if c.Plan != nil {
			total += len(c.Plan.Candidates)
		}
	}
	return total
}

// FailedClusters counts clusters that produced no plan.
func (r *Report) FailedClusters() int {
	if r == nil {
		return 0
	}
	failed := 0
	for _, c := range r.Clusters {
		if c.Error != "" {
			failed++
		}
	}
	return failed
}
