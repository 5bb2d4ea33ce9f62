package domain

import "context"

// RemoteStore is the remote object storage holding artifacts.
type RemoteStore interface {
	// EnsureDir creates the destination directory if it does not exist.
	EnsureDir(ctx context.Context, dest Destination) error
	Upload(ctx context.Context, localPath string, dest Destination, name string) error
	// List returns the names of the files (never directories) in dest.
	List(ctx context.Context, dest Destination) ([]string, error)
	Delete(ctx context.Context, dest Destination, name string) error
}
