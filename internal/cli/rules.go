package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/judgment"
)

var rulesConfig string

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.PersistentFlags().StringVar(&rulesConfig, "config", "", "Judgment config path (default ~/.pcagent/judgment.yaml)")
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and extend the judgment rule set",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active judgment rules in priority order",
	Long:  "Shows built-in and custom rules after config load, highest priority first.\nDisabled rules are listed but never match.",
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <rule.yaml>",
	Short: "Add a custom rule to the judgment config",
	Long:  "Validates the rule and appends it to custom_rules in the config file.\nA malformed rule is rejected whole; the existing rule set is untouched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesAdd,
}

func rulesConfigPath() string {
	if rulesConfig != "" {
		return rulesConfig
	}
	return judgment.DefaultConfigPath()
}

func runRulesList(cmd *cobra.Command, args []string) error {
	path := rulesConfigPath()
	cfg, hash, err := judgment.LoadConfigWithHash(path)
	if err != nil {
		return fmt.Errorf("load judgment config: %w", err)
	}
	engine, err := judgment.New(cfg)
	if err != nil {
		return fmt.Errorf("build judgment engine: %w", err)
	}

	rules := engine.Rules()
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	fmt.Printf("Config: %s (%s)\n", path, hash)
	fmt.Printf("Age group: %s, strictness: %s\n\n", cfg.AgeGroup, cfg.Strictness)
	fmt.Printf("%-10s %-9s %-9s %-8s %s\n", "ID", "PRIORITY", "ACTION", "ENABLED", "NAME")
	for _, r := range rules {
		fmt.Printf("%-10s %-9d %-9s %-8t %s\n", r.ID, r.Priority, r.Action, r.Enabled, r.Name)
	}
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}
	var rule judgment.Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("parse rule file: %w", err)
	}

	path := rulesConfigPath()
	cfg, err := judgment.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load judgment config: %w", err)
	}

	// Run the rule through the engine so ID collisions with built-ins are
	// caught, not just schema problems.
	engine, err := judgment.New(cfg)
	if err != nil {
		return fmt.Errorf("build judgment engine: %w", err)
	}
	if err := engine.AddRule(rule); err != nil {
		return fmt.Errorf("rule rejected: %w", err)
	}

	cfg.CustomRules = append(cfg.CustomRules, rule)
	if err := judgment.SaveConfig(path, cfg); err != nil {
		return fmt.Errorf("save judgment config: %w", err)
	}
	fmt.Printf("Added rule %q (priority %d, action %s) to %s\n", rule.ID, rule.Priority, rule.Action, path)
	return nil
}
