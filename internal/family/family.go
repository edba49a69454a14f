// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package family groups design variants into families. Primary strategy is
// file-hash overlap between downloaded designs; when that finds nothing, a
// name-pattern decomposer looks for siblings sharing a base title.
package family

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/dedupe"
	"github.com/printarr/printarr/internal/events"
)

// namePatternConfidence is the fixed confidence of the fallback strategy.
const namePatternConfidence = 0.5

// maxNameCandidates bounds the prefix query of the fallback pass.
const maxNameCandidates = 50

// variantSuffixRe peels one decorative suffix off a title: " - Red",
// " v2", " (Bust)", " Part 3", " MK2" and the like.
// Specific suffixes come before the generic dash and parenthesis rules so
// "pre-supported" is not split at its own hyphen.
var variantSuffixRe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s+(v\.?\s?\d+(?:\.\d+)?)$`),
	regexp.MustCompile(`(?i)\s+(mk\.?\s?\d+)$`),
	regexp.MustCompile(`(?i)\s+(part\s?\d+)$`),
	regexp.MustCompile(`(?i)\s+(remix(?:ed)?)$`),
	regexp.MustCompile(`(?i)\s+(pre[\s-]?supported|supported|unsupported)$`),
	regexp.MustCompile(`(?i)\s*[-–—|]\s*([\p{L}\p{N} ]{1,40})$`),
	regexp.MustCompile(`(?i)\s*\(([^)]{1,40})\)$`),
}

// DecomposeTitle splits a title into base and variant. The variant is empty
// when no suffix pattern matches or the remaining base would be too short.
func DecomposeTitle(title string) (base, variant string) {
	title = strings.TrimSpace(title)
	for _, re := range variantSuffixRe {
		m := re.FindStringSubmatchIndex(title)
		if m == nil {
			continue
		}
		b := strings.TrimSpace(title[:m[0]])
		if len([]rune(b)) < 3 {
			continue
		}
		return b, strings.TrimSpace(title[m[2]:m[3]])
	}
	return title, ""
}

// Detector runs family detection for one design at a time.
type Detector struct {
	store *catalog.Store
	bus   *events.Broadcaster
	log   *zap.Logger
}

// New builds the detector.
func New(store *catalog.Store, bus *events.Broadcaster, logger *zap.Logger) *Detector {
	return &Detector{store: store, bus: bus, log: logger.Named("family")}
}

// Result reports the outcome of one detection run.
type Result struct {
	FamilyID string
	Created  bool
	Method   catalog.FamilyDetectionMethod
	Members  int
}

// Detect assigns the design to a family by hash overlap, falling back to
// the name-pattern decomposer, then recomputes the family's tags. A design
// already in a family only gets its tags re-aggregated.
func (d *Detector) Detect(ctx context.Context, designID string) (*Result, error) {
	design, err := d.store.GetDesign(ctx, d.store.DB(), designID)
	if err != nil {
		return nil, err
	}
	if design.FamilyID != nil {
		if err := d.AggregateTags(ctx, *design.FamilyID); err != nil {
			return nil, err
		}
		return &Result{FamilyID: *design.FamilyID}, nil
	}

	res, err := d.byHashOverlap(ctx, design)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res, err = d.byNamePattern(ctx, design)
		if err != nil {
			return nil, err
		}
	}
	if res == nil {
		return &Result{}, nil
	}

	if err := d.AggregateTags(ctx, res.FamilyID); err != nil {
		return nil, err
	}
	d.bus.Publish(events.TypeFamilyDetected, map[string]string{
		"design_id": designID,
		"family_id": res.FamilyID,
		"method":    string(res.Method),
	})
	d.log.Info("family assigned",
		zap.String("design_id", designID),
		zap.String("family_id", res.FamilyID),
		zap.String("method", string(res.Method)),
		zap.Bool("created", res.Created))
	return res, nil
}

type overlapCandidate struct {
	design  *catalog.Design
	jaccard float64
}

// byHashOverlap scores every design sharing at least one SHA-256 with this
// one by Jaccard overlap. Joins an existing family when a candidate has
// one, otherwise creates a family over the whole candidate set.
func (d *Detector) byHashOverlap(ctx context.Context, design *catalog.Design) (*Result, error) {
	files, err := d.store.FilesForDesign(ctx, d.store.DB(), design.ID)
	if err != nil {
		return nil, err
	}
	hashSet := map[string]bool{}
	for _, f := range files {
		if f.SHA256 != nil {
			hashSet[*f.SHA256] = true
		}
	}
	if len(hashSet) == 0 {
		return nil, nil
	}
	hashes := make([]string, 0, len(hashSet))
	for h := range hashSet {
		hashes = append(hashes, h)
	}

	counts, err := d.store.SharedHashCounts(ctx, d.store.DB(), hashes, design.ID)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, nil
	}

	var cands []overlapCandidate
	for id, c := range counts {
		other, err := d.store.GetDesign(ctx, d.store.DB(), id)
		if err != nil {
			return nil, err
		}
		shared, total := c[0], c[1]
		union := len(hashes) + total - shared
		if union <= 0 {
			continue
		}
		cands = append(cands, overlapCandidate{design: other, jaccard: float64(shared) / float64(union)})
	}
	if len(cands) == 0 {
		return nil, nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].jaccard > cands[j].jaccard })

	// best candidate already in a family wins
	for _, c := range cands {
		if c.design.FamilyID == nil {
			continue
		}
		fam, err := d.store.GetFamily(ctx, d.store.DB(), *c.design.FamilyID)
		if err != nil {
			return nil, err
		}
		variant := variantAgainst(fam.Name, design.Title())
		if err := d.store.AssignDesignToFamily(ctx, d.store.DB(), design.ID, fam.ID, variant); err != nil {
			return nil, err
		}
		return &Result{FamilyID: fam.ID, Method: catalog.FamilyByHashOverlap, Members: 1}, nil
	}

	// nobody has a family yet; found a new one over the candidate set
	avg := 0.0
	for _, c := range cands {
		avg += c.jaccard
	}
	avg /= float64(len(cands))

	base, _ := DecomposeTitle(design.Title())
	fam := &catalog.DesignFamily{
		Name:                base,
		DetectionMethod:     catalog.FamilyByHashOverlap,
		DetectionConfidence: avg,
	}
	members := 0
	err = d.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.store.CreateFamily(ctx, tx, fam); err != nil {
			return err
		}
		if err := d.store.AssignDesignToFamily(ctx, tx, design.ID, fam.ID,
			variantAgainst(fam.Name, design.Title())); err != nil {
			return err
		}
		members = 1
		for _, c := range cands {
			if err := d.store.AssignDesignToFamily(ctx, tx, c.design.ID, fam.ID,
				variantAgainst(fam.Name, c.design.Title())); err != nil {
				return err
			}
			members++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{FamilyID: fam.ID, Created: true, Method: catalog.FamilyByHashOverlap, Members: members}, nil
}

// byNamePattern groups designs whose decomposed base title matches.
func (d *Detector) byNamePattern(ctx context.Context, design *catalog.Design) (*Result, error) {
	base, variant := DecomposeTitle(dedupe.NormalizeTitle(design.Title()))
	if variant == "" {
		return nil, nil
	}
	others, err := d.store.DesignsByNormTitlePrefix(ctx, d.store.DB(), base, design.ID, maxNameCandidates)
	if err != nil {
		return nil, err
	}
	var siblings []*catalog.Design
	for i := range others {
		ob, _ := DecomposeTitle(dedupe.NormalizeTitle(others[i].Title()))
		if ob == base {
			siblings = append(siblings, &others[i])
		}
	}
	if len(siblings) == 0 {
		return nil, nil
	}

	for _, sib := range siblings {
		if sib.FamilyID == nil {
			continue
		}
		fam, err := d.store.GetFamily(ctx, d.store.DB(), *sib.FamilyID)
		if err != nil {
			return nil, err
		}
		if err := d.store.AssignDesignToFamily(ctx, d.store.DB(), design.ID, fam.ID,
			variantAgainst(fam.Name, design.Title())); err != nil {
			return nil, err
		}
		return &Result{FamilyID: fam.ID, Method: catalog.FamilyByNamePattern, Members: 1}, nil
	}

	famBase, _ := DecomposeTitle(design.Title())
	fam := &catalog.DesignFamily{
		Name:                famBase,
		DetectionMethod:     catalog.FamilyByNamePattern,
		DetectionConfidence: namePatternConfidence,
	}
	members := 0
	err = d.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.store.CreateFamily(ctx, tx, fam); err != nil {
			return err
		}
		if err := d.store.AssignDesignToFamily(ctx, tx, design.ID, fam.ID,
			variantAgainst(fam.Name, design.Title())); err != nil {
			return err
		}
		members = 1
		for _, sib := range siblings {
			if err := d.store.AssignDesignToFamily(ctx, tx, sib.ID, fam.ID,
				variantAgainst(fam.Name, sib.Title())); err != nil {
				return err
			}
			members++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{FamilyID: fam.ID, Created: true, Method: catalog.FamilyByNamePattern, Members: members}, nil
}

// AggregateTags rewrites a family's tag set as the union of its members'
// manual, user and caption tags. AI tags at family scope are owned by the
// analysis job and left alone here.
func (d *Detector) AggregateTags(ctx context.Context, familyID string) error {
	members, err := d.store.FamilyMembers(ctx, d.store.DB(), familyID)
	if err != nil {
		return err
	}
	type tagged struct {
		id     string
		source catalog.TagSource
	}
	union := map[string]tagged{}
	for _, m := range members {
		tags, err := d.store.TagsForDesign(ctx, d.store.DB(), m.ID)
		if err != nil {
			return err
		}
		for _, t := range tags {
			switch t.Source {
			case catalog.TagFromUser, catalog.TagFromManual, catalog.TagFromCaption:
				if _, ok := union[t.Name]; !ok {
					union[t.Name] = tagged{id: t.ID, source: t.Source}
				}
			}
		}
	}
	return d.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.store.ClearFamilyTags(ctx, tx, familyID,
			catalog.TagFromUser, catalog.TagFromManual, catalog.TagFromCaption); err != nil {
			return err
		}
		for _, t := range union {
			if err := d.store.AssignFamilyTag(ctx, tx, familyID, t.id, t.source); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceAITags swaps the family's AI tag set for a fresh synthesis.
func (d *Detector) ReplaceAITags(ctx context.Context, familyID string, names []string) error {
	return d.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := d.store.ClearFamilyTags(ctx, tx, familyID, catalog.TagFromAI); err != nil {
			return err
		}
		for _, name := range names {
			tag, err := d.store.EnsureTag(ctx, tx, name)
			if err != nil {
				continue
			}
			if err := d.store.AssignFamilyTag(ctx, tx, familyID, tag.ID, catalog.TagFromAI); err != nil {
				return err
			}
		}
		return nil
	})
}

// variantAgainst derives a variant label as what remains of the title once
// the family name is removed. Nil when the title is the family name.
func variantAgainst(familyName, title string) *string {
	t := strings.TrimSpace(title)
	f := strings.TrimSpace(familyName)
	if strings.EqualFold(t, f) {
		return nil
	}
	if len(t) > len(f) && strings.EqualFold(t[:len(f)], f) {
		v := strings.Trim(t[len(f):], " -–—|():")
		if v != "" {
			return &v
		}
		return nil
	}
	_, v := DecomposeTitle(t)
	if v == "" {
		return nil
	}
	return &v
}
