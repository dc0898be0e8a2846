package ontap

import "time"

// Snapshot is a volume snapshot as returned by the snapshots endpoint
type Snapshot struct {
	Name       string    `json:"name"`
	UUID       string    `json:"uuid,omitempty"`
	CreateTime time.Time `json:"create_time"`
}

// ClusterInfo identifies the cluster behind an endpoint
type ClusterInfo struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Version struct {
		Full string `json:"full"`
	} `json:"version"`
}

type volume struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
	SVM  struct {
		Name string `json:"name"`
	} `json:"svm"`
}

type link struct {
	Href string `json:"href"`
}

// collection is the envelope every ONTAP list endpoint returns
type collection[T any] struct {
	Records    []T `json:"records"`
	NumRecords int `json:"num_records"`
	Links      struct {
		Next *link `json:"next,omitempty"`
	} `json:"_links"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Target  string `json:"target,omitempty"`
	} `json:"error"`
}
