package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/judgment"
	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
)

var (
	judgeCategory   string
	judgeConfidence float64
	judgeConcerns   []string
	judgeText       string
	judgeApp        string
	judgeURL        string
	judgeConfig     string
	judgeJSON       bool
)

func init() {
	rootCmd.AddCommand(judgeCmd)
	judgeCmd.Flags().StringVar(&judgeCategory, "category", "unknown", "Content category from analysis")
	judgeCmd.Flags().Float64Var(&judgeConfidence, "confidence", 0, "Analysis confidence in [0,1]")
	judgeCmd.Flags().StringSliceVar(&judgeConcerns, "concern", nil, "Safety concern (repeatable)")
	judgeCmd.Flags().StringVar(&judgeText, "text", "", "Analyzed input text")
	judgeCmd.Flags().StringVar(&judgeApp, "app", "", "Source application")
	judgeCmd.Flags().StringVar(&judgeURL, "url", "", "Source URL")
	judgeCmd.Flags().StringVar(&judgeConfig, "config", "", "Judgment config path (default ~/.pcagent/judgment.yaml)")
	judgeCmd.Flags().BoolVar(&judgeJSON, "json", false, "Emit the verdict as JSON")
}

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge one analysis result against the active rule set",
	Long:  "Evaluates a content-analysis tuple and prints the resulting action\n(allow/monitor/restrict/block), the applied rules, and the reasoning.",
	RunE:  runJudge,
}

func runJudge(cmd *cobra.Command, args []string) error {
	path := judgeConfig
	if path == "" {
		path = judgment.DefaultConfigPath()
	}
	cfg, _, err := judgment.LoadConfigWithHash(path)
	if err != nil {
		return fmt.Errorf("load judgment config: %w", err)
	}
	engine, err := judgment.New(cfg)
	if err != nil {
		return fmt.Errorf("build judgment engine: %w", err)
	}

	verdict := engine.Judge(model.AnalysisResult{
		Category:       model.Category(judgeCategory),
		Confidence:     judgeConfidence,
		SafetyConcerns: judgeConcerns,
		InputText:      judgeText,
		Application:    judgeApp,
		URL:            judgeURL,
	})

	if judgeJSON {
		out, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Action:     %s\n", verdict.Action)
	fmt.Printf("Confidence: %.2f\n", verdict.Confidence)
	fmt.Printf("Rules:      %v\n", verdict.AppliedRuleIDs)
	if verdict.EmergencyFlag {
		fmt.Println("Emergency:  YES")
	}
	fmt.Printf("Reasoning:  %s\n", verdict.Reasoning)
	return nil
}
