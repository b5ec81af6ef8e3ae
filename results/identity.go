// Package results builds and persists the per-session result dataset.
package results

import (
	"path/filepath"
	"strconv"
)

// Identity names the participant and session a dataset belongs to.
type Identity struct {
	Participant string `json:"participant"`
	Session     string `json:"session"`
	Age         int    `json:"age"` // zero or negative means not provided
	Sex         string `json:"sex"`
}

// Filename returns the dataset file name, unique per participant and session.
func (id Identity) Filename() string {
	return id.Participant + "_" + id.Session + ".csv"
}

// Path returns the dataset location under dir.
func (id Identity) Path(dir string) string {
	return filepath.Join(dir, id.Filename())
}

func (id Identity) ageText() string {
	if id.Age <= 0 {
		return ""
	}
	return strconv.Itoa(id.Age)
}
