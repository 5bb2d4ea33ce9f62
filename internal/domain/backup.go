package domain

import (
	"fmt"
	"time"
)

// ConnectionSpec holds the parameters needed to reach the database that is
// being backed up. Port is empty when the connection string carries none, in
// which case the dump tool applies its own default.
type ConnectionSpec struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// Redacted renders the connection for logs without the password.
func (c ConnectionSpec) Redacted() string {
	addr := c.Host
	if c.Port != "" {
		addr = c.Host + ":" + c.Port
	}
	if c.User == "" {
		return fmt.Sprintf("%s/%s", addr, c.Database)
	}
	return fmt.Sprintf("%s@%s/%s", c.User, addr, c.Database)
}

// BackupArtifact is one compressed dump on local scratch storage.
type BackupArtifact struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Destination identifies the remote directory that holds artifacts.
type Destination struct {
	Remote string
	Dir    string
}

func (d Destination) String() string {
	return d.Remote + ":" + d.Dir
}

// RetentionPolicy keeps the Keep most recent artifacts.
type RetentionPolicy struct {
	Keep int
}

// RunResult reports the outcome of a single pipeline run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Connection ConnectionSpec
	Artifact   *BackupArtifact
	Uploaded   bool
	Pruned     []string

	// RetentionErr is a soft failure: it never makes the run fail.
	RetentionErr error
	Err          error
}

// Succeeded reports whether the backup was stored remotely.
func (r *RunResult) Succeeded() bool {
	return r.Err == nil && r.Uploaded
}

func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
