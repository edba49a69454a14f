// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/cerrors"
	"github.com/printarr/printarr/internal/credentials"
)

// ForumTopic is one scraped topic with its attachment links.
type ForumTopic struct {
	ID          int64
	Title       string
	Author      string
	PostedAt    time.Time
	Description string
	Attachments []ForumAttachment
	// ExternalID identifies the design on the public catalogue the forum
	// mirrors, when the scraper can recover it.
	ExternalID string
}

// ForumAttachment is one downloadable file on a topic.
type ForumAttachment struct {
	Filename string
	Size     int64
	// FetchRef is the scraper's download handle (attachment URL).
	FetchRef string
}

// ForumClient is the site-specific scraper, injected at construction. The
// adapter owns session-cookie caching and re-login; the client does the
// HTML parsing.
type ForumClient interface {
	// Login authenticates and returns the serialised session cookies.
	Login(ctx context.Context) (cookies []byte, err error)
	// SetCookies installs cached session cookies for subsequent calls.
	SetCookies(cookies []byte) error
	// Page scrapes one listing page (1-based) of the board at location.
	Page(ctx context.Context, location string, page int) (topics []ForumTopic, hasMore bool, err error)
	// Download opens an attachment's byte stream.
	Download(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error)
}

const forumCredNamespace = "forum"

// maxForumPages bounds one scan so a misbehaving pager cannot loop forever.
const maxForumPages = 50

// ForumAdapter scrapes a forum board into raw items. Session cookies are
// cached encrypted; an auth failure forces one re-login before the call is
// given up on.
type ForumAdapter struct {
	client ForumClient
	creds  *credentials.Store
	log    *zap.Logger
}

// NewForumAdapter builds the forum adapter.
func NewForumAdapter(client ForumClient, creds *credentials.Store, logger *zap.Logger) *ForumAdapter {
	return &ForumAdapter{client: client, creds: creds, log: logger.Named("forum")}
}

// Name implements Adapter.
func (a *ForumAdapter) Name() string { return "forum" }

// ensureSession installs cached cookies, logging in when none are stored.
func (a *ForumAdapter) ensureSession(ctx context.Context) error {
	cookies, err := a.creds.Get(forumCredNamespace)
	if err == nil {
		if err := a.client.SetCookies(cookies); err == nil {
			return nil
		}
		a.log.Info("cached forum session rejected, logging in again")
	}
	return a.relogin(ctx)
}

func (a *ForumAdapter) relogin(ctx context.Context) error {
	cookies, err := a.client.Login(ctx)
	if err != nil {
		return cerrors.Wrap(cerrors.KindAuthFailed, "forum login failed", err)
	}
	if err := a.creds.Put(forumCredNamespace, cookies); err != nil {
		a.log.Warn("could not cache forum session", zap.Error(err))
	}
	return a.client.SetCookies(cookies)
}

// withSession runs fn, retrying exactly once after a fresh login when the
// cached session has expired server-side.
func (a *ForumAdapter) withSession(ctx context.Context, fn func() error) error {
	if err := a.ensureSession(ctx); err != nil {
		return err
	}
	err := fn()
	if err == nil {
		return nil
	}
	if k := cerrors.KindOf(err); k == cerrors.KindAuthRequired || k == cerrors.KindAuthFailed {
		if err := a.relogin(ctx); err != nil {
			return err
		}
		return fn()
	}
	return err
}

// Scan walks the board's pages newest-first and emits topics with an id
// above the channel cursor. The cursor is the highest topic id seen.
func (a *ForumAdapter) Scan(ctx context.Context, req ScanRequest, emit EmitFunc) (int64, error) {
	if req.Folder == nil {
		return 0, cerrors.E(cerrors.KindValidation, "forum scan needs a folder location")
	}
	fromID := int64(0)
	if req.Channel != nil && req.Channel.LastMessageID != nil {
		fromID = *req.Channel.LastMessageID
	}

	// phase 1: scrape everything new into memory
	var collected []ForumTopic
	err := a.withSession(ctx, func() error {
		collected = collected[:0]
		for page := 1; page <= maxForumPages; page++ {
			topics, hasMore, err := a.client.Page(ctx, req.Folder.Location, page)
			if err != nil {
				return cerrors.Wrap(cerrors.KindTransient, "forum page scrape failed", err)
			}
			seenOld := false
			for _, t := range topics {
				if t.ID > fromID {
					collected = append(collected, t)
				} else {
					seenOld = true
				}
			}
			if seenOld || !hasMore {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fromID, err
	}

	// phase 2: emit oldest first so the cursor advances monotonically
	next := fromID
	for i := len(collected) - 1; i >= 0; i-- {
		t := collected[i]
		item := RawItem{
			UpstreamID: t.ID,
			Title:      t.Title,
			Designer:   req.Designer,
			Author:     t.Author,
			Caption:    t.Description,
			PostedAt:   t.PostedAt,
		}
		if t.ExternalID != "" {
			item.ExternalProvider = "forum"
			item.ExternalID = t.ExternalID
		}
		for _, att := range t.Attachments {
			item.Files = append(item.Files, FileDesc{
				Filename: att.Filename,
				Size:     att.Size,
				FetchRef: att.FetchRef,
			})
		}
		if err := emit(item); err != nil {
			return next, err
		}
		if t.ID > next {
			next = t.ID
		}
	}
	return next, nil
}

// FetchBytes implements Adapter.
func (a *ForumAdapter) FetchBytes(ctx context.Context, fetchRef string) (io.ReadCloser, int64, error) {
	var (
		rc   io.ReadCloser
		size int64
	)
	err := a.withSession(ctx, func() error {
		var err error
		rc, size, err = a.client.Download(ctx, fetchRef)
		if err != nil {
			return cerrors.Wrap(cerrors.KindTransient, "forum attachment download failed", err)
		}
		return nil
	})
	return rc, size, err
}

// Probe implements Adapter.
func (a *ForumAdapter) Probe(ctx context.Context) error {
	return a.ensureSession(ctx)
}
