package cmds

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/fcrunner/pkg/inference/tools"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
)

type ToolsSettings struct {
	Schema bool     `glazed.parameter:"schema"`
	Tools  []string `glazed.parameter:"tools"`
}

// ToolsCommand lists the tools offered to the model, one row per tool.
type ToolsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ToolsCommand)(nil)

func NewToolsCommand() (*ToolsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}

	return &ToolsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"tools",
			cmds.WithShort("List the tools offered to the model"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"schema",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Add the JSON schema of each tool"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"tools",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Glob patterns of the tools to list"),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ToolsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ToolsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	demo, err := NewDemoRegistry()
	if err != nil {
		return err
	}
	registry, err := tools.FilterRegistry(demo, s.Tools)
	if err != nil {
		return err
	}
	return addToolRows(ctx, gp, registry, s.Schema)
}

func addToolRows(ctx context.Context, gp middlewares.Processor, registry tools.Registry, withSchema bool) error {
	for _, s := range tools.Schemas(registry) {
		row := types.NewRow(
			types.MRP("name", s.Name),
			types.MRP("description", s.Description),
		)
		if withSchema {
			b, err := json.Marshal(s.Parameters)
			if err != nil {
				return err
			}
			row.Set("schema", string(b))
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
