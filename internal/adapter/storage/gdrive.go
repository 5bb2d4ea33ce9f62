package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/bbscout/dbbackup/internal/domain"
)

const folderMimeType = "application/vnd.google-apps.folder"

// GDriveOptions mirrors the keys of an rclone "drive" remote.
type GDriveOptions struct {
	// Token is the rclone token JSON (access_token, refresh_token, expiry).
	Token string
	// ClientID and ClientSecret are needed to refresh an expired token.
	ClientID     string
	ClientSecret string
	// ServiceAccountJSON takes precedence over Token when set.
	ServiceAccountJSON string
	// RootFolderID defaults to "root", the user's My Drive.
	RootFolderID string

	ClientOptions []option.ClientOption
}

type GDriveStorage struct {
	service *drive.Service
	rootID  string

	mu      sync.Mutex
	folders map[string]string
}

func NewGDrive(ctx context.Context, opts GDriveOptions) (*GDriveStorage, error) {
	clientOpts := append([]option.ClientOption{}, opts.ClientOptions...)

	switch {
	case opts.ServiceAccountJSON != "":
		creds, err := google.CredentialsFromJSON(ctx, []byte(opts.ServiceAccountJSON), drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	case opts.Token != "":
		var token oauth2.Token
		if err := json.Unmarshal([]byte(opts.Token), &token); err != nil {
			return nil, fmt.Errorf("failed to parse drive token: %w", err)
		}
		oauthCfg := &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{drive.DriveScope},
		}
		clientOpts = append(clientOpts, option.WithTokenSource(oauthCfg.TokenSource(ctx, &token)))
	}

	service, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return newGDriveWithService(service, opts.RootFolderID), nil
}

func newGDriveWithService(service *drive.Service, rootID string) *GDriveStorage {
	if rootID == "" {
		rootID = "root"
	}
	return &GDriveStorage{
		service: service,
		rootID:  rootID,
		folders: make(map[string]string),
	}
}

func (g *GDriveStorage) EnsureDir(ctx context.Context, dest domain.Destination) error {
	_, err := g.folderID(ctx, dest.Dir, true)
	return err
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, dest domain.Destination, name string) error {
	parentID, err := g.folderID(ctx, dest.Dir, true)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    name,
		Parents: []string{parentID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

func (g *GDriveStorage) List(ctx context.Context, dest domain.Destination) ([]string, error) {
	parentID, err := g.folderID(ctx, dest.Dir, false)
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		return nil, nil
	}

	query := fmt.Sprintf("'%s' in parents and trashed = false and mimeType != '%s'",
		escapeQuery(parentID), folderMimeType)

	var files []string
	err = g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name)").
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				files = append(files, file.Name)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return files, nil
}

// Delete removes every file called name in the destination folder. Drive
// allows duplicate names, and retention treats them as one artifact.
func (g *GDriveStorage) Delete(ctx context.Context, dest domain.Destination, name string) error {
	parentID, err := g.folderID(ctx, dest.Dir, false)
	if err != nil {
		return err
	}
	if parentID == "" {
		return fmt.Errorf("file not found: %s", name)
	}

	ids, err := g.find(ctx, parentID, name, false)
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("file not found: %s", name)
	}

	for _, id := range ids {
		if err := g.service.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}

	return nil
}

// folderID walks dir one segment at a time from the root folder. With create
// unset a missing segment yields an empty id and no error.
func (g *GDriveStorage) folderID(ctx context.Context, dir string, create bool) (string, error) {
	dir = strings.Trim(dir, "/")

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.folders[dir]; ok {
		return id, nil
	}

	parentID := g.rootID
	if dir == "" {
		return parentID, nil
	}

	for _, segment := range strings.Split(dir, "/") {
		if segment == "" {
			continue
		}

		ids, err := g.find(ctx, parentID, segment, true)
		if err != nil {
			return "", fmt.Errorf("failed to look up folder %q: %w", segment, err)
		}

		if len(ids) > 0 {
			parentID = ids[0]
			continue
		}
		if !create {
			return "", nil
		}

		folder, err := g.service.Files.Create(&drive.File{
			Name:     segment,
			MimeType: folderMimeType,
			Parents:  []string{parentID},
		}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to create folder %q: %w", segment, err)
		}
		parentID = folder.Id
	}

	g.folders[dir] = parentID
	return parentID, nil
}

func (g *GDriveStorage) find(ctx context.Context, parentID, name string, folders bool) ([]string, error) {
	op := "!="
	if folders {
		op = "="
	}
	query := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false and mimeType %s '%s'",
		escapeQuery(parentID), escapeQuery(name), op, folderMimeType)

	var ids []string
	err := g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				ids = append(ids, file.Id)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
