package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/workflow"
)

var companyFlags struct {
	app      string
	category string
	geo      string
	force    bool
	wait     bool
}

var companyCmd = &cobra.Command{
	Use:   "company <url>",
	Short: "Start a company-profile workflow for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := model.CompanyInput{
			URL:          args[0],
			App:          model.AppTag(companyFlags.app),
			Category:     companyFlags.category,
			Jurisdiction: companyFlags.geo,
			ForceUpdate:  companyFlags.force,
		}
		if err := input.Validate(); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		slug := normalize.DomainSlug(input.Host())
		run, err := env.Temporal.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
			ID:        fmt.Sprintf("company-%s-%s", input.App, slug),
			TaskQueue: taskQueue(),
		}, workflow.CompanyWorkflow, workflow.CompanyParams{
			Input:  input,
			Policy: workflow.PolicyFromConfig(cfg),
		})
		if err != nil {
			return eris.Wrap(err, "start company workflow")
		}

		zap.L().Info("company workflow started",
			zap.String("workflow_id", run.GetID()),
			zap.String("slug", slug),
		)
		if !companyFlags.wait {
			fmt.Println(run.GetID())
			return nil
		}

		var result model.WorkflowResult
		if err := run.Get(cmd.Context(), &result); err != nil {
			return eris.Wrap(err, "await company workflow")
		}
		return printJSON(cmd, result)
	},
}

func init() {
	companyCmd.Flags().StringVar(&companyFlags.app, "app", "", "application tag (required)")
	companyCmd.Flags().StringVar(&companyFlags.category, "category", "", "expected business category")
	companyCmd.Flags().StringVar(&companyFlags.geo, "geo", "", "jurisdiction hint for research")
	companyCmd.Flags().BoolVar(&companyFlags.force, "force", false, "re-research and update an existing profile")
	companyCmd.Flags().BoolVar(&companyFlags.wait, "wait", false, "block until the workflow finishes and print the result")
	_ = companyCmd.MarkFlagRequired("app")
	rootCmd.AddCommand(companyCmd)
}
