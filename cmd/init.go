package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/epidata/client/config"
	httpPkg "github.com/bascanada/epidata/pkg/http"
	"github.com/bascanada/epidata/pkg/log"
)

var (
	configPath string

	// selection
	contextID  string
	engineName string
	inherits   []string
	vars       []string

	// fields
	fields     []string
	fieldsFile string
	varsFile   string

	// range
	from string
	to   string
	last string

	// output
	outputFormat string
	outputFile   string
	colorMode    string

	// ad-hoc engine, used without a config file
	adhocClasspath string
	adhocEndpoint  string
	adhocData      string
	adhocKeyFields []string

	logger log.MyLoggerOptions

	debugHttp bool
)

func onCommandStart(cmd *cobra.Command, args []string) {
	if err := log.ConfigureMyLogger(&logger); err != nil {
		cmd.PrintErrln("failed to configure logging:", err)
	}
	httpPkg.SetDebug(debugHttp)
}

// loadConfigForCompletion loads the configuration for shell completion,
// turning a failure into the matching directive.
func loadConfigForCompletion(cmd *cobra.Command) (*config.Config, cobra.ShellCompDirective) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return cfg, cobra.ShellCompDirectiveNoFileComp
}

func completeContextIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, directive := loadConfigForCompletion(cmd)
	if cfg == nil {
		return nil, directive
	}
	var suggestions []string
	for _, id := range cfg.ContextIDs() {
		if d := cfg.Contexts[id].Description; d != "" {
			suggestions = append(suggestions, id+"\t"+d)
		} else {
			suggestions = append(suggestions, id)
		}
	}
	return suggestions, directive
}

func completeEngines(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, directive := loadConfigForCompletion(cmd)
	if cfg == nil {
		return nil, directive
	}
	names := make([]string, 0, len(cfg.Engines))
	for name, engine := range cfg.Engines {
		names = append(names, name+"\t"+engine.Type)
	}
	sort.Strings(names)
	return names, directive
}

// addEngineFlags registers the flags selecting an engine, configured or
// ad-hoc.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&engineName, "engine", "e", "", "configured engine to use, overriding the context one")
	cmd.Flags().StringVar(&adhocClasspath, "classpath", "", "engine artifact to launch when no config is used")
	cmd.Flags().StringVar(&adhocEndpoint, "endpoint", "", "engine HTTP gateway to use when no config is used")
	cmd.Flags().StringVar(&adhocData, "data", "", "JSON dataset served by the in-memory engine when no config is used")
	cmd.Flags().StringSliceVar(&adhocKeyFields, "key-fields", nil, "key columns of the ad-hoc engine")
	_ = cmd.RegisterFlagCompletionFunc("engine", completeEngines)
}
