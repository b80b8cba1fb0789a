package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/workflow"
)

var articleFlags struct {
	app        string
	words      int
	format     string
	geo        string
	breadth    int
	deepCrawl  bool
	images     bool
	publish    bool
	skipGraph  bool
	keywords   []string
	metaDesc   string
	author     string
	angle      string
	wait       bool
}

var articleCmd = &cobra.Command{
	Use:   "article <topic>",
	Short: "Start an article workflow for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := model.ArticleInput{
			Topic:           args[0],
			App:             model.AppTag(articleFlags.app),
			TargetWordCount: articleFlags.words,
			Format:          model.ArticleFormat(articleFlags.format),
			Jurisdiction:    articleFlags.geo,
			ResearchBreadth: articleFlags.breadth,
			DeepCrawl:       articleFlags.deepCrawl,
			GenerateImages:  articleFlags.images,
			AutoPublish:     articleFlags.publish,
			SkipGraphSync:   articleFlags.skipGraph,
			Keywords:        articleFlags.keywords,
			MetaDescription: articleFlags.metaDesc,
			Author:          articleFlags.author,
			Angle:           articleFlags.angle,
		}
		if err := input.Validate(); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		slug := normalize.TopicSlug(input.Topic)
		run, err := env.Temporal.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
			ID:        fmt.Sprintf("article-%s-%s", input.App, slug),
			TaskQueue: taskQueue(),
		}, workflow.ArticleWorkflow, workflow.ArticleParams{
			Input:  input,
			Policy: workflow.PolicyFromConfig(cfg),
		})
		if err != nil {
			return eris.Wrap(err, "start article workflow")
		}

		zap.L().Info("article workflow started",
			zap.String("workflow_id", run.GetID()),
			zap.String("slug", slug),
		)
		if !articleFlags.wait {
			fmt.Println(run.GetID())
			return nil
		}

		var result model.WorkflowResult
		if err := run.Get(cmd.Context(), &result); err != nil {
			return eris.Wrap(err, "await article workflow")
		}
		return printJSON(cmd, result)
	},
}

// printJSON writes a value as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	articleCmd.Flags().StringVar(&articleFlags.app, "app", "", "application tag (required)")
	articleCmd.Flags().IntVar(&articleFlags.words, "words", 0, "target word count")
	articleCmd.Flags().StringVar(&articleFlags.format, "format", "", "article format: article, listicle, guide, analysis")
	articleCmd.Flags().StringVar(&articleFlags.geo, "geo", "", "jurisdiction hint for research")
	articleCmd.Flags().IntVar(&articleFlags.breadth, "breadth", 0, "research breadth")
	articleCmd.Flags().BoolVar(&articleFlags.deepCrawl, "deep-crawl", false, "crawl more seed pages")
	articleCmd.Flags().BoolVar(&articleFlags.images, "images", true, "generate the image sequence")
	articleCmd.Flags().BoolVar(&articleFlags.publish, "publish", false, "publish on success instead of drafting")
	articleCmd.Flags().BoolVar(&articleFlags.skipGraph, "skip-graph", false, "skip knowledge-graph read and sync")
	articleCmd.Flags().StringSliceVar(&articleFlags.keywords, "keywords", nil, "seed keywords")
	articleCmd.Flags().StringVar(&articleFlags.metaDesc, "meta-description", "", "override the meta description")
	articleCmd.Flags().StringVar(&articleFlags.author, "author", "", "byline author")
	articleCmd.Flags().StringVar(&articleFlags.angle, "angle", "", "editorial angle")
	articleCmd.Flags().BoolVar(&articleFlags.wait, "wait", false, "block until the workflow finishes and print the result")
	_ = articleCmd.MarkFlagRequired("app")
	rootCmd.AddCommand(articleCmd)
}
