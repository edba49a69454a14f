// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/credentials"
	"github.com/printarr/printarr/internal/profiles"
)

// Cloud-drive URL shapes. The folder form carries the id after /folders/,
// the file form after /d/ or in an id= query parameter.
var (
	driveFolderRe = regexp.MustCompile(`(?:/folders/|[?&]folderid=)([A-Za-z0-9_-]{10,})`)
	driveFileRe   = regexp.MustCompile(`(?:/d/|[?&]id=)([A-Za-z0-9_-]{10,})`)
)

// ParseDriveURL extracts (folderID, fileID) from a shared drive URL.
// Exactly one of the two is non-empty on success.
func ParseDriveURL(raw string) (folderID, fileID string, err error) {
	if m := driveFolderRe.FindStringSubmatch(raw); m != nil {
		return m[1], "", nil
	}
	if m := driveFileRe.FindStringSubmatch(raw); m != nil {
		return "", m[1], nil
	}
	return "", "", cerrors.Ef(cerrors.KindValidation, "unrecognised drive URL %q", raw)
}

// DriveEntry is one listing row from the drive REST client.
type DriveEntry struct {
	ID       string
	Name     string
	IsFolder bool
	Size     int64
	MIME     string
	Modified time.Time
}

// OAuthToken is the drive credential blob.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// DriveClient is the cloud-drive REST client, injected at construction.
type DriveClient interface {
	// SetToken installs the access token used by subsequent calls.
	SetToken(accessToken string)
	// List returns the direct children of a folder.
	List(ctx context.Context, folderID string) ([]DriveEntry, error)
	// Download opens a file's byte stream.
	Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
	// Refresh exchanges a refresh token for a fresh access token.
	Refresh(ctx context.Context, refreshToken string) (OAuthToken, error)
	// About verifies the credentials against the drive API.
	About(ctx context.Context) error
}

// refreshMargin renews tokens that expire within this window, so a long
// folder walk never starts on a token about to lapse.
const refreshMargin = 5 * time.Minute

const driveCredNamespace = "drive"

// DriveAdapter walks shared cloud-drive folders depth-first and detects
// designs in them with the folder's import profile.
type DriveAdapter struct {
	client DriveClient
	creds  *credentials.Store
	log    *zap.Logger
}

// NewDriveAdapter builds the cloud-drive adapter.
func NewDriveAdapter(client DriveClient, creds *credentials.Store, logger *zap.Logger) *DriveAdapter {
	return &DriveAdapter{client: client, creds: creds, log: logger.Named("drive")}
}

// Name implements Adapter.
func (a *DriveAdapter) Name() string { return "drive" }

// StoreToken persists a freshly authorised token.
func (a *DriveAdapter) StoreToken(tok OAuthToken) error {
	blob, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return a.creds.Put(driveCredNamespace, blob)
}

// ensureToken loads the stored token and refreshes it opportunistically
// when its expiry falls inside the safety margin.
func (a *DriveAdapter) ensureToken(ctx context.Context) error {
	blob, err := a.creds.Get(driveCredNamespace)
	if err != nil {
		return err
	}
	var tok OAuthToken
	if err := json.Unmarshal(blob, &tok); err != nil {
		return cerrors.E(cerrors.KindAuthFailed, "stored drive token is malformed", err)
	}
	if time.Until(tok.Expiry) < refreshMargin {
		fresh, err := a.client.Refresh(ctx, tok.RefreshToken)
		if err != nil {
			return cerrors.Wrap(cerrors.KindAuthFailed, "drive token refresh failed", err)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = tok.RefreshToken
		}
		if err := a.StoreToken(fresh); err != nil {
			a.log.Warn("could not persist refreshed drive token", zap.Error(err))
		}
		tok = fresh
	}
	a.client.SetToken(tok.AccessToken)
	return nil
}

// Scan walks the folder's tree to the configured depth, runs profile
// detection over the listing and emits one item per detected design.
func (a *DriveAdapter) Scan(ctx context.Context, req ScanRequest, emit EmitFunc) (int64, error) {
	if req.Folder == nil || req.Profile == nil {
		return 0, cerrors.E(cerrors.KindValidation, "drive scan needs a folder and a profile")
	}
	folderID, fileID, err := ParseDriveURL(req.Folder.Location)
	if err != nil {
		return 0, err
	}
	if fileID != "" {
		return 0, cerrors.E(cerrors.KindValidation, "drive import sources must point at folders")
	}
	if err := a.ensureToken(ctx); err != nil {
		return 0, err
	}

	maxDepth := req.Folder.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	var entries []profiles.Entry
	if err := a.walk(ctx, folderID, "", 0, maxDepth, &entries); err != nil {
		return 0, err
	}
	return 0, emitDetected(entries, req, emit)
}

// walk lists one folder and recurses depth-first into subfolders.
func (a *DriveAdapter) walk(ctx context.Context, folderID, prefix string, depth, maxDepth int, out *[]profiles.Entry) error {
	if depth >= maxDepth {
		return nil
	}
	children, err := a.client.List(ctx, folderID)
	if err != nil {
		return cerrors.Wrap(cerrors.KindTransient, "drive folder listing failed", err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		p := c.Name
		if prefix != "" {
			p = prefix + "/" + c.Name
		}
		*out = append(*out, profiles.Entry{
			Path:     p,
			IsDir:    c.IsFolder,
			Size:     c.Size,
			FetchRef: c.ID,
		})
		if c.IsFolder {
			if err := a.walk(ctx, c.ID, p, depth+1, maxDepth, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// FetchBytes implements Adapter; fetchRef is the drive file id.
func (a *DriveAdapter) FetchBytes(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error) {
	if err := a.ensureToken(ctx); err != nil {
		return nil, 0, err
	}
	rc, size, err := a.client.Download(ctx, fetchRef)
	if err != nil {
		return nil, 0, cerrors.Wrap(cerrors.KindTransient, "drive download failed", err)
	}
	return rc, size, nil
}

// Probe implements Adapter.
func (a *DriveAdapter) Probe(ctx context.Context) error {
	if err := a.ensureToken(ctx); err != nil {
		return err
	}
	return a.client.About(ctx)
}

// emitDetected converts profile-detected design folders into raw items.
// Shared by every tree-walking adapter.
func emitDetected(entries []profiles.Entry, req ScanRequest, emit EmitFunc) error {
	designs := profiles.DetectDesigns(entries, req.Profile)
	for _, d := range designs {
		itemPath := d.Path
		if itemPath == "" && len(d.ModelFiles) > 0 {
			itemPath = d.ModelFiles[0].Path
		} else if itemPath == "" && len(d.ArchiveFiles) > 0 {
			itemPath = d.ArchiveFiles[0].Path
		}
		item := RawItem{
			UpstreamID: PathID(itemPath),
			Title:      d.Title,
			Designer:   req.Designer,
			FolderPath: d.Path,
			PostedAt:   time.Now().UTC(),
			Tags:       d.Tags,
		}
		for _, f := range append(append([]profiles.Entry{}, d.ModelFiles...), d.ArchiveFiles...) {
			item.Files = append(item.Files, FileDesc{
				Filename: f.Name(),
				Size:     f.Size,
				FetchRef: f.FetchRef,
			})
		}
		for _, f := range d.OtherFiles {
			item.Files = append(item.Files, FileDesc{
				Filename: f.Name(),
				Size:     f.Size,
				FetchRef: f.FetchRef,
			})
		}
		for _, p := range d.PreviewFiles {
			item.Previews = append(item.Previews, PreviewDesc{
				Filename: p.Name(),
				FetchRef: p.FetchRef,
			})
		}
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}
