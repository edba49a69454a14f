// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/printarr/printarr/internal/cerrors"
)

const designColumns = `id, canonical_title, canonical_designer, title_override,
	designer_override, status, multicolor, multicolor_source, primary_file_type,
	total_size_bytes, metadata_authority, import_source_id, family_id, family_variant,
	external_provider, external_id, external_meta, norm_title, norm_designer,
	created_at, updated_at`

// NormalizeKey lowercases, strips decorative runes and collapses whitespace.
// It is the shared key for title/designer duplicate matching, computed on
// every design write.
func NormalizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// decorative punctuation and emoji contribute nothing
		}
	}
	return strings.TrimSpace(b.String())
}

// CreateDesign inserts a design, computing its normalised match keys.
func (s *Store) CreateDesign(ctx context.Context, q Querier, d *Design) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = StatusDiscovered
	}
	if d.Multicolor == "" {
		d.Multicolor = MulticolorUnknown
	}
	if d.MetadataAuthority == "" {
		d.MetadataAuthority = AuthoritySource
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	d.NormTitle = NormalizeKey(d.Title())
	d.NormDesigner = NormalizeKey(d.Designer())
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO designs (id, canonical_title, canonical_designer, title_override,
			designer_override, status, multicolor, multicolor_source, primary_file_type,
			total_size_bytes, metadata_authority, import_source_id, family_id, family_variant,
			external_provider, external_id, external_meta, norm_title, norm_designer,
			created_at, updated_at)
		VALUES (:id, :canonical_title, :canonical_designer, :title_override,
			:designer_override, :status, :multicolor, :multicolor_source, :primary_file_type,
			:total_size_bytes, :metadata_authority, :import_source_id, :family_id, :family_variant,
			:external_provider, :external_id, :external_meta, :norm_title, :norm_designer,
			:created_at, :updated_at)`, d)
	if err != nil {
		if isUniqueViolation(err, "designs_external_ref") {
			return cerrors.E(cerrors.KindConflict, "a design is already linked to this external id", err)
		}
		return fmt.Errorf("insert design: %w", err)
	}
	s.markDirty("designs")
	return nil
}

// GetDesign loads one design by id.
func (s *Store) GetDesign(ctx context.Context, q Querier, id string) (*Design, error) {
	var d Design
	err := sqlx.GetContext(ctx, q, &d,
		`SELECT `+designColumns+` FROM designs WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "design")
	}
	return &d, nil
}

// DesignFilter narrows and orders ListDesigns.
type DesignFilter struct {
	Status     DesignStatus
	ChannelID  string
	TagName    string
	FamilyID   string
	Multicolor Multicolor
	Designer   string
	Query      string
	Sort       string // created_at | -created_at | title | -size
	Page       int
	PerPage    int
}

var designSorts = map[string]string{
	"":            "created_at DESC",
	"created_at":  "created_at ASC",
	"-created_at": "created_at DESC",
	"title":       "coalesce(title_override, canonical_title) ASC",
	"-title":      "coalesce(title_override, canonical_title) DESC",
	"size":        "total_size_bytes ASC",
	"-size":       "total_size_bytes DESC",
}

// ListDesigns returns one page of non-deleted designs matching the filter.
// Free-text queries rank full-text matches first and fall back to trigram
// substring matching for partial words.
func (s *Store) ListDesigns(ctx context.Context, q Querier, f DesignFilter) ([]Design, int64, error) {
	where := "status <> 'DELETED'"
	args := []interface{}{}
	n := 0
	add := func(cond string, vals ...interface{}) {
		where = appendCond(where, cond)
		args = append(args, vals...)
	}

	if f.Status != "" {
		n++
		add("status = $"+strconv.Itoa(n), f.Status)
	}
	if f.Multicolor != "" {
		n++
		add("multicolor = $"+strconv.Itoa(n), f.Multicolor)
	}
	if f.FamilyID != "" {
		n++
		add("family_id = $"+strconv.Itoa(n), f.FamilyID)
	}
	if f.Designer != "" {
		n++
		add("norm_designer = $"+strconv.Itoa(n), NormalizeKey(f.Designer))
	}
	if f.ChannelID != "" {
		n++
		add("EXISTS (SELECT 1 FROM design_sources ds WHERE ds.design_id = designs.id AND ds.channel_id = $"+strconv.Itoa(n)+")", f.ChannelID)
	}
	if f.TagName != "" {
		n++
		add("EXISTS (SELECT 1 FROM design_tags dt JOIN tags t ON t.id = dt.tag_id WHERE dt.design_id = designs.id AND t.name = $"+strconv.Itoa(n)+")",
			strings.ToLower(f.TagName))
	}

	order := designSorts[f.Sort]
	if order == "" {
		order = designSorts[""]
	}
	if f.Query != "" {
		n++
		p := strconv.Itoa(n)
		add("(search_vector @@ websearch_to_tsquery('simple', $"+p+")"+
			" OR coalesce(title_override, canonical_title) ILIKE '%' || $"+p+" || '%')", f.Query)
		order = "ts_rank(search_vector, websearch_to_tsquery('simple', $" + p + ")) DESC, " + order
	}

	total, _, err := s.countRows(ctx, q, "designs", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count designs: %w", err)
	}

	query := `SELECT ` + designColumns + ` FROM designs WHERE ` + where +
		` ORDER BY ` + order + pageClause(f.Page, f.PerPage, &args, &n)
	var out []Design
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list designs: %w", err)
	}
	return out, total, nil
}

// UpdateDesignMetadata applies user title/designer overrides and flips the
// metadata authority, recomputing the normalised keys.
func (s *Store) UpdateDesignMetadata(ctx context.Context, q Querier, id string, title, designer *string, authority MetadataAuthority) error {
	d, err := s.GetDesign(ctx, q, id)
	if err != nil {
		return err
	}
	if title != nil {
		d.TitleOverride = StrPtr(*title)
	}
	if designer != nil {
		d.DesignerOverride = StrPtr(*designer)
	}
	if authority != "" {
		d.MetadataAuthority = authority
	}
	d.NormTitle = NormalizeKey(d.Title())
	d.NormDesigner = NormalizeKey(d.Designer())
	d.UpdatedAt = time.Now().UTC()
	_, err = sqlx.NamedExecContext(ctx, q, `
		UPDATE designs SET title_override = :title_override,
			designer_override = :designer_override, metadata_authority = :metadata_authority,
			norm_title = :norm_title, norm_designer = :norm_designer, updated_at = :updated_at
		WHERE id = :id`, d)
	if err != nil {
		return fmt.Errorf("update design metadata: %w", err)
	}
	s.markDirty("designs")
	return nil
}

// SetCanonicalMetadata replaces the source-derived title/designer, used when
// an external metadata link takes authority.
func (s *Store) SetCanonicalMetadata(ctx context.Context, q Querier, id, title, designer string, authority MetadataAuthority) error {
	_, err := q.ExecContext(ctx, `
		UPDATE designs SET canonical_title = $2, canonical_designer = $3,
			metadata_authority = $4,
			norm_title = CASE WHEN title_override IS NULL THEN $5 ELSE norm_title END,
			norm_designer = CASE WHEN designer_override IS NULL THEN $6 ELSE norm_designer END,
			updated_at = $7
		WHERE id = $1`,
		id, title, designer, authority, NormalizeKey(title), NormalizeKey(designer), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set canonical metadata: %w", err)
	}
	s.markDirty("designs")
	return nil
}

// AdvanceDesignStatus moves a design along the lifecycle. Backwards moves
// are rejected; DELETED is reachable from anywhere. Returns the previous
// status so callers can emit a change event only when it moved.
func (s *Store) AdvanceDesignStatus(ctx context.Context, q Querier, id string, next DesignStatus) (DesignStatus, error) {
	d, err := s.GetDesign(ctx, q, id)
	if err != nil {
		return "", err
	}
	if d.Status == next {
		return d.Status, nil
	}
	if !d.Status.CanAdvance(next) {
		return d.Status, cerrors.Ef(cerrors.KindConflict, "design status cannot move %s -> %s", d.Status, next)
	}
	_, err = q.ExecContext(ctx,
		`UPDATE designs SET status = $2, updated_at = $3 WHERE id = $1`,
		id, next, time.Now().UTC())
	if err != nil {
		return d.Status, fmt.Errorf("advance design status: %w", err)
	}
	s.markDirty("designs")
	return d.Status, nil
}

// RevertDesignStatus moves a design backwards along the chain, bypassing
// the forward-only rule. Only the download cancel path uses it, returning a
// canceled design from DOWNLOADING to WANTED.
func (s *Store) RevertDesignStatus(ctx context.Context, q Querier, id string, to DesignStatus) error {
	_, err := q.ExecContext(ctx,
		`UPDATE designs SET status = $2, updated_at = $3 WHERE id = $1`,
		id, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revert design status: %w", err)
	}
	s.markDirty("designs")
	return nil
}

// SetMulticolor writes the flag only when the new source outranks the one
// that produced the current value. USER_OVERRIDE beats 3MF_ANALYSIS beats
// HEURISTIC.
func (s *Store) SetMulticolor(ctx context.Context, q Querier, id string, value Multicolor, source MulticolorSource) (bool, error) {
	d, err := s.GetDesign(ctx, q, id)
	if err != nil {
		return false, err
	}
	if d.MulticolorSource != nil && multicolorSourceRank[*d.MulticolorSource] > multicolorSourceRank[source] {
		return false, nil
	}
	_, err = q.ExecContext(ctx, `
		UPDATE designs SET multicolor = $2, multicolor_source = $3, updated_at = $4
		WHERE id = $1`, id, value, source, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("set multicolor: %w", err)
	}
	return true, nil
}

// SetDesignExternalRef links a design to an external metadata provider.
func (s *Store) SetDesignExternalRef(ctx context.Context, q Querier, id, provider, externalID string, meta []byte) error {
	_, err := q.ExecContext(ctx, `
		UPDATE designs SET external_provider = $2, external_id = $3, external_meta = $4,
			updated_at = $5
		WHERE id = $1`, id, provider, externalID, meta, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err, "designs_external_ref") {
			return cerrors.E(cerrors.KindConflict, "another design is already linked to this external id", err)
		}
		return fmt.Errorf("set external ref: %w", err)
	}
	return nil
}

// FindDesignByExternalRef returns the non-deleted design linked to
// (provider, externalID), or a not-found error.
func (s *Store) FindDesignByExternalRef(ctx context.Context, q Querier, provider, externalID string) (*Design, error) {
	var d Design
	err := sqlx.GetContext(ctx, q, &d, `
		SELECT `+designColumns+` FROM designs
		WHERE external_provider = $1 AND external_id = $2 AND status <> 'DELETED'`,
		provider, externalID)
	if err != nil {
		return nil, notFound(err, "design")
	}
	return &d, nil
}

// FindDesignsByNormPair returns non-deleted designs whose normalised
// title+designer match, excluding one id.
func (s *Store) FindDesignsByNormPair(ctx context.Context, q Querier, normTitle, normDesigner, excludeID string) ([]Design, error) {
	var out []Design
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+designColumns+` FROM designs
		WHERE norm_title = $1 AND norm_designer = $2 AND id <> $3 AND status <> 'DELETED'`,
		normTitle, normDesigner, excludeID)
	if err != nil {
		return nil, fmt.Errorf("match designs by title: %w", err)
	}
	return out, nil
}

// DesignsByNormTitlePrefix returns non-deleted designs whose normalised
// title starts with the given prefix, excluding one id. Feeds the family
// detector's name-pattern pass.
func (s *Store) DesignsByNormTitlePrefix(ctx context.Context, q Querier, prefix, excludeID string, limit int) ([]Design, error) {
	var out []Design
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+designColumns+` FROM designs
		WHERE norm_title LIKE $1 || '%' AND id <> $2 AND status <> 'DELETED'
		ORDER BY created_at LIMIT $3`,
		prefix, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("match designs by title prefix: %w", err)
	}
	return out, nil
}

// AddDesignSource links a message to a design. A message belongs to at most
// one design; re-linking the same pair is a no-op.
func (s *Store) AddDesignSource(ctx context.Context, q Querier, ds *DesignSource) error {
	if ds.ID == "" {
		ds.ID = newID()
	}
	ds.CreatedAt = time.Now().UTC()
	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO design_sources (id, design_id, channel_id, message_id, created_at)
		VALUES (:id, :design_id, :channel_id, :message_id, :created_at)
		ON CONFLICT (channel_id, message_id) DO NOTHING`, ds)
	if err != nil {
		return fmt.Errorf("insert design source: %w", err)
	}
	return nil
}

// SourcesForDesign lists the message links of a design.
func (s *Store) SourcesForDesign(ctx context.Context, q Querier, designID string) ([]DesignSource, error) {
	var out []DesignSource
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT id, design_id, channel_id, message_id, created_at
		FROM design_sources WHERE design_id = $1 ORDER BY created_at`, designID)
	if err != nil {
		return nil, fmt.Errorf("list design sources: %w", err)
	}
	return out, nil
}

// DesignIDForMessage returns the design a message is linked to, or "".
func (s *Store) DesignIDForMessage(ctx context.Context, q Querier, channelID, messageID string) (string, error) {
	var id string
	err := sqlx.GetContext(ctx, q, &id, `
		SELECT design_id FROM design_sources WHERE channel_id = $1 AND message_id = $2`,
		channelID, messageID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("lookup design for message: %w", err)
	}
	return id, nil
}

// ReassignDesignRefs moves every dependent row of fromID onto toID: sources,
// files, tags, previews, import records. Conflicting tag rows are dropped.
// Used by duplicate merge inside its transaction.
func (s *Store) ReassignDesignRefs(ctx context.Context, q Querier, fromID, toID string) error {
	steps := []struct {
		what  string
		query string
	}{
		{"design sources", `UPDATE design_sources SET design_id = $2 WHERE design_id = $1`},
		{"design files", `UPDATE design_files SET design_id = $2 WHERE design_id = $1`},
		{"previews", `UPDATE preview_assets SET design_id = $2, is_primary = FALSE WHERE design_id = $1`},
		{"import records", `UPDATE import_records SET design_id = $2 WHERE design_id = $1`},
		{"tags", `INSERT INTO design_tags (design_id, tag_id, source)
			SELECT $2, tag_id, source FROM design_tags WHERE design_id = $1
			ON CONFLICT (design_id, tag_id) DO NOTHING`},
		{"old tags", `DELETE FROM design_tags WHERE design_id = $1`},
	}
	for _, st := range steps {
		args := []interface{}{fromID, toID}
		if st.what == "old tags" {
			args = args[:1]
		}
		if _, err := q.ExecContext(ctx, st.query, args...); err != nil {
			return fmt.Errorf("reassign %s: %w", st.what, err)
		}
	}
	s.markDirty("designs", "design_files", "preview_assets")
	return nil
}

// CountDesignsByStatus returns dashboard totals per lifecycle state.
func (s *Store) CountDesignsByStatus(ctx context.Context, q Querier) (map[DesignStatus]int64, error) {
	type row struct {
		Status DesignStatus `db:"status"`
		Count  int64        `db:"count"`
	}
	var rows []row
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT status, count(*) AS count FROM designs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count designs by status: %w", err)
	}
	out := make(map[DesignStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
