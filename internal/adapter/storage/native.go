package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"gopkg.in/ini.v1"

	"github.com/bbscout/dbbackup/internal/domain"
)

var (
	errNoCredential  = errors.New("the native store driver needs RCLONE_CONFIG or RCLONE_CONFIG_B64")
	errNoDriveAuth   = errors.New("drive remote has neither token nor service_account_credentials")
	errUnsupportedFS = errors.New("unsupported remote type")
)

// NewNative reads the rclone configuration blob and builds an in-process
// client for the named remote, so no rclone binary is needed. Only the drive,
// s3, local and alias backends are understood.
func NewNative(ctx context.Context, credential []byte, remoteName string, clientOpts ...option.ClientOption) (domain.RemoteStore, error) {
	if len(credential) == 0 {
		return nil, errNoCredential
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rclone config: %w", err)
	}

	section, err := file.GetSection(remoteName)
	if err != nil {
		var names []string
		for _, s := range file.Sections() {
			if s.Name() != ini.DefaultSection {
				names = append(names, s.Name())
			}
		}
		return nil, fmt.Errorf("remote %q not found in rclone config (have: %s)", remoteName, strings.Join(names, ", "))
	}

	kind := section.Key("type").String()
	switch kind {
	case "drive":
		opts := GDriveOptions{
			Token:              section.Key("token").String(),
			ClientID:           section.Key("client_id").String(),
			ClientSecret:       section.Key("client_secret").String(),
			ServiceAccountJSON: section.Key("service_account_credentials").String(),
			RootFolderID:       section.Key("root_folder_id").String(),
			ClientOptions:      clientOpts,
		}
		if opts.Token == "" && opts.ServiceAccountJSON == "" && len(clientOpts) == 0 {
			return nil, errNoDriveAuth
		}
		return NewGDrive(ctx, opts)
	case "s3":
		return NewS3(ctx, S3Options{
			AccessKeyID:     section.Key("access_key_id").String(),
			SecretAccessKey: section.Key("secret_access_key").String(),
			SessionToken:    section.Key("session_token").String(),
			Region:          section.Key("region").String(),
			Endpoint:        section.Key("endpoint").String(),
		})
	case "local":
		return NewLocal(""), nil
	case "alias":
		target := section.Key("remote").String()
		if target == "" || strings.Contains(target, ":") {
			return nil, fmt.Errorf("%w: alias to %q", errUnsupportedFS, target)
		}
		return NewLocal(target), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedFS, kind)
	}
}
