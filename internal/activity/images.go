package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/quest-group/content-engine/internal/imageseq"
	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/pkg/imagegen"
)

// GenerateImageRequest renders one planned prompt, optionally conditioned
// on the previous image in the sequence.
type GenerateImageRequest struct {
	Prompt       imageseq.Prompt `json:"prompt"`
	ReferenceURL string          `json:"reference_url,omitempty"`
	Subject      string          `json:"subject"`
}

// GenerateImageResult is the rendered image plus its cost.
type GenerateImageResult struct {
	Record  model.ImageRecord `json:"record"`
	CostUSD float64           `json:"cost_usd"`
}

// GenerateImage renders one image. Content-policy rejections come back
// non-retryable; the workflow records the miss and keeps the sequence
// going from the last successful reference.
func (a *Activities) GenerateImage(ctx context.Context, req GenerateImageRequest) (*GenerateImageResult, error) {
	if err := a.deps.Limits.Wait(ctx, adapterImageGen); err != nil {
		return nil, classify(err)
	}

	resp, err := resilience.ExecuteVal(ctx, a.deps.Breakers.Get(adapterImageGen),
		func(ctx context.Context) (*imagegen.GenerateResponse, error) {
			resp, err := a.deps.Images.Generate(ctx, imagegen.GenerateRequest{
				Prompt:       req.Prompt.Text,
				ReferenceURL: req.ReferenceURL,
				Aspect:       req.Prompt.Aspect,
				Seed:         req.Prompt.Seed,
				Model:        a.deps.Config.ImageGen.Model,
			})
			var apiErr *imagegen.APIError
			if errors.As(err, &apiErr) {
				if apiErr.IsContentPolicy() {
					return nil, resilience.NewAppError(resilience.KindData, resilience.CodeContentPolicy, err)
				}
				return nil, httpAppError(apiErr.StatusCode, apiErr.RetryAfter, err)
			}
			return resp, err
		})
	if err != nil {
		return nil, classify(breakerOpen(err))
	}

	record := model.ImageRecord{
		URL:           resp.URL,
		Alt:           imageAlt(req.Prompt.Slot, req.Subject),
		Title:         req.Subject,
		Description:   req.Prompt.Text,
		SourceSection: req.Prompt.SourceSection,
	}
	return &GenerateImageResult{
		Record:  record,
		CostUSD: a.deps.Costs.Images(1),
	}, nil
}

func imageAlt(slot model.ImageSlot, subject string) string {
	switch slot {
	case model.SlotFeatured:
		return fmt.Sprintf("Featured image for %s", subject)
	case model.SlotHero:
		return fmt.Sprintf("Hero image for %s", subject)
	}
	return fmt.Sprintf("Illustration %d for %s", model.ContentSlotIndex(slot), subject)
}
