package main

import (
	"os"
	"strings"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/fcrunner/cmd/fcrunner/cmds"
	"github.com/go-go-golems/fcrunner/pkg/doc"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "fcrunner",
	Short: "fcrunner runs function calling agent conversations",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := clay.InitLogger(); err != nil {
			return err
		}
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("Loaded configuration")
		return nil
	},
}

func main() {
	err := clay.InitViper("fcrunner", rootCmd)
	cobra.CheckErr(err)
	// nested settings such as model.script come from FCRUNNER_MODEL_SCRIPT
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	helpSystem := help.NewHelpSystem()
	cobra.CheckErr(doc.AddDocToHelpSystem(helpSystem))
	helpSystem.SetupCobraRootCommand(rootCmd)

	toolsCmd, err := cmds.NewToolsCommand()
	cobra.CheckErr(err)
	toolsCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(toolsCmd)
	cobra.CheckErr(err)

	rootCmd.AddCommand(cmds.NewRunCommand(), toolsCobraCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
