package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skillsmith/skillsmith/pkg/workflow"
)

type CreateConfig struct {
	Name         string
	Instructions string
	Resources    string
	Template     string
}

func NewCreateConfig() *CreateConfig {
	return &CreateConfig{}
}

var createCmd = &cobra.Command{
	Use:   "create [description]",
	Short: "Create a new skill",
	Long: `Create a new skill and write it to every target after approval.

Without a description an interactive wizard asks for the name, description,
instructions and resources. With a description the skill is rendered
directly; the name defaults to a cleaned form of the description.

The rendered preview is shown in the Human Gate, where it can be approved,
expanded with scripts, references or assets, edited in your editor, or
rejected. Nothing is written until it is approved.

Example:
  skillsmith create
  skillsmith create "Generate API documentation from OpenAPI specs" --name api-docs
  skillsmith create "Review Go code" --targets claude,gemini --template strict`,
	Run: func(cmd *cobra.Command, args []string) {
		config := getCreateConfigFromFlags(cmd)
		in := workflow.Input{
			Name:         config.Name,
			Description:  strings.Join(args, " "),
			Instructions: config.Instructions,
			Resources:    config.Resources,
		}
		run(cmd, appOptions{needTargets: true, template: config.Template}, func(ctx context.Context, a *app) int {
			return runCreate(ctx, a, in)
		})
	},
}

func init() {
	defaults := NewCreateConfig()
	createCmd.Flags().String("name", defaults.Name, "Skill name (default: derived from the description)")
	createCmd.Flags().String("instructions", defaults.Instructions, "Main instructions (default: the description)")
	createCmd.Flags().String("resources", defaults.Resources, "Short description of the resources the skill needs")
	createCmd.Flags().String("template", defaults.Template, "Template to render (default: the template config key)")
}

func getCreateConfigFromFlags(cmd *cobra.Command) *CreateConfig {
	config := NewCreateConfig()

	if name, err := cmd.Flags().GetString("name"); err == nil {
		config.Name = name
	}
	if instructions, err := cmd.Flags().GetString("instructions"); err == nil {
		config.Instructions = instructions
	}
	if resources, err := cmd.Flags().GetString("resources"); err == nil {
		config.Resources = resources
	}
	if template, err := cmd.Flags().GetString("template"); err == nil {
		config.Template = template
	}

	return config
}

func runCreate(ctx context.Context, a *app, in workflow.Input) int {
	outcome, err := a.wf.Create(ctx, in)
	return a.report(outcome, err)
}
