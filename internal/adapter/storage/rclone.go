package storage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/bbscout/dbbackup/internal/domain"
)

type runFunc func(ctx context.Context, binary string, args ...string) ([]byte, error)

// RcloneStore drives the rclone CLI. Every remote rclone knows about is
// supported, at the cost of one process per operation.
type RcloneStore struct {
	binary     string
	configPath string
	run        runFunc
}

// NewRclone returns a store using binary. configPath may be empty, in which
// case rclone falls back to its own configuration lookup.
func NewRclone(binary, configPath string) *RcloneStore {
	if binary == "" {
		binary = "rclone"
	}
	return &RcloneStore{
		binary:     binary,
		configPath: configPath,
		run:        runRclone,
	}
}

func (r *RcloneStore) EnsureDir(ctx context.Context, dest domain.Destination) error {
	if _, err := r.exec(ctx, "mkdir", remotePath(dest, "")); err != nil {
		return fmt.Errorf("rclone mkdir %s: %w", dest, err)
	}
	return nil
}

func (r *RcloneStore) Upload(ctx context.Context, localPath string, dest domain.Destination, name string) error {
	if _, err := r.exec(ctx, "copyto", localPath, remotePath(dest, name)); err != nil {
		return fmt.Errorf("rclone copyto %s: %w", remotePath(dest, name), err)
	}
	return nil
}

func (r *RcloneStore) List(ctx context.Context, dest domain.Destination) ([]string, error) {
	out, err := r.exec(ctx, "lsf", "--files-only", remotePath(dest, ""))
	if err != nil {
		return nil, fmt.Errorf("rclone lsf %s: %w", dest, err)
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimRight(line, "\r")
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		files = append(files, name)
	}
	return files, nil
}

func (r *RcloneStore) Delete(ctx context.Context, dest domain.Destination, name string) error {
	if _, err := r.exec(ctx, "deletefile", remotePath(dest, name)); err != nil {
		return fmt.Errorf("rclone deletefile %s: %w", remotePath(dest, name), err)
	}
	return nil
}

func (r *RcloneStore) exec(ctx context.Context, args ...string) ([]byte, error) {
	if r.configPath != "" {
		args = append([]string{"--config", r.configPath}, args...)
	}
	return r.run(ctx, r.binary, args...)
}

func remotePath(dest domain.Destination, name string) string {
	if name == "" {
		return dest.Remote + ":" + dest.Dir
	}
	return dest.Remote + ":" + path.Join(dest.Dir, name)
}

func runRclone(ctx context.Context, binary string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 1000 {
			msg = msg[len(msg)-1000:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
