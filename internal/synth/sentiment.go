package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/pkg/anthropic"
)

// ClassifySentiments assigns a tone class to each section in one cheap
// call. Sections that cannot be classified fall back to neutral rather
// than failing the run; image mood tolerates a wrong guess better than a
// missing image.
func (s *Synthesizer) ClassifySentiments(ctx context.Context, sections []model.ArticleSection) ([]model.Sentiment, Result, error) {
	var res Result
	if len(sections) == 0 {
		return nil, res, nil
	}

	var b strings.Builder
	b.WriteString(`Classify the sentiment of each article section as one of: positive, negative, neutral, mixed.
Respond with a JSON array of strings, one per section, in order. Nothing else.

`)
	for i, sec := range sections {
		body := sec.Body
		if len(body) > 1200 {
			body = body[:1200]
		}
		fmt.Fprintf(&b, "Section %d: %s\n%s\n\n", i+1, sec.H2Title, body)
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.models.HaikuModel,
		MaxTokens: 512,
		Messages: []anthropic.Message{
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return nil, res, eris.Wrap(err, "synth: classify sentiments")
	}
	res.add(resp.Usage, s.models.HaikuModel)

	var labels []string
	if err := json.Unmarshal([]byte(cleanJSONArray(resp.Text())), &labels); err != nil {
		zap.L().Warn("synth: sentiment response unparseable, defaulting to neutral", zap.Error(err))
		labels = nil
	}

	out := make([]model.Sentiment, len(sections))
	for i := range sections {
		out[i] = model.SentimentNeutral
		if i < len(labels) {
			if sent := model.Sentiment(strings.ToLower(strings.TrimSpace(labels[i]))); sent.Valid() {
				out[i] = sent
			}
		}
	}
	return out, res, nil
}
