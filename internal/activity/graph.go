package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/pkg/zep"
)

// GraphIDFor derives the stable graph id for a record from its slug and
// application.
func GraphIDFor(app model.AppTag, slug string) string {
	return "quest-content-" + string(app) + "-" + slug
}

// SyncGraphRequest posts a published record into the knowledge graph.
type SyncGraphRequest struct {
	Kind     model.WorkflowKind `json:"kind"`
	App      model.AppTag       `json:"app"`
	Slug     string             `json:"slug"`
	RecordID string             `json:"record_id"`
	Summary  string             `json:"summary"`
}

// SyncGraphResult carries the graph id the record was synced into.
type SyncGraphResult struct {
	GraphID string `json:"graph_id"`
}

// SyncGraph appends the record summary as a graph episode and stamps the
// graph id onto the stored record. This phase is soft: the caller records
// a failure event instead of failing the run.
func (a *Activities) SyncGraph(ctx context.Context, req SyncGraphRequest) (*SyncGraphResult, error) {
	if a.deps.Graph == nil {
		return nil, classify(errors.New("graph client not configured"))
	}
	if err := a.deps.Limits.Wait(ctx, adapterZep); err != nil {
		return nil, classify(err)
	}

	graphID := GraphIDFor(req.App, req.Slug)
	summary := truncateEpisode(req.Summary, a.deps.Config.Zep.MaxEpisodeChars)

	err := a.deps.Breakers.Get(adapterZep).Execute(ctx, func(ctx context.Context) error {
		_, err := a.deps.Graph.AddEpisode(ctx, zep.AddEpisodeRequest{
			GraphID: graphID,
			Type:    "text",
			Data:    summary,
		})
		var apiErr *zep.APIError
		if errors.As(err, &apiErr) {
			return httpAppError(apiErr.StatusCode, apiErr.RetryAfter, err)
		}
		return err
	})
	if err != nil {
		return nil, classify(breakerOpen(err))
	}

	if req.Kind == model.KindCompany {
		err = a.deps.Store.SetCompanyGraphID(ctx, req.RecordID, graphID)
	} else {
		err = a.deps.Store.SetArticleGraphID(ctx, req.RecordID, graphID)
	}
	if err != nil {
		return nil, classify(err)
	}

	zap.L().Info("graph episode synced",
		zap.String("graph_id", graphID),
		zap.String("record_id", req.RecordID),
	)
	return &SyncGraphResult{GraphID: graphID}, nil
}

// truncateEpisode bounds an episode to limit bytes, backing up to a rune
// boundary so the cut never splits a character.
func truncateEpisode(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ArticleEpisode renders the graph episode text for a published article.
func ArticleEpisode(p *model.ArticlePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Article: %s\n", p.Title)
	if p.Excerpt != "" {
		fmt.Fprintf(&b, "%s\n", p.Excerpt)
	}
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(p.Tags, ", "))
	}
	for _, s := range p.Sections {
		fmt.Fprintf(&b, "\n%s\n%s\n", s.H2Title, s.Body)
	}
	return b.String()
}

// CompanyEpisode renders the graph episode text for a company profile.
func CompanyEpisode(p *model.ProfilePayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (%s)\n", p.LegalName, p.Domain)
	if p.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", p.Industry)
	}
	if p.HeadquartersCity != "" || p.HeadquartersCountry != "" {
		fmt.Fprintf(&b, "Headquarters: %s %s\n", p.HeadquartersCity, p.HeadquartersCountry)
	}
	for _, e := range p.Sections {
		fmt.Fprintf(&b, "\n%s\n%s\n", e.Section.Title, e.Section.MarkdownContent)
	}
	return b.String()
}
