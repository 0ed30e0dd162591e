package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"synnergy-evaluation/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Node.ID != "synnergy-eval-mainnet" {
		t.Fatalf("unexpected node id: %s", AppConfig.Node.ID)
	}
	if AppConfig.Evaluation.DefaultNumOptions != 6 {
		t.Fatalf("unexpected default num options: %d", AppConfig.Evaluation.DefaultNumOptions)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Node.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", AppConfig.Node.LogLevel)
	}
	if len(AppConfig.Evaluation.AllowedGroupSizes) != 1 || AppConfig.Evaluation.AllowedGroupSizes[0] != 3 {
		t.Fatalf("expected allowed_group_sizes override to [3], got %v", AppConfig.Evaluation.AllowedGroupSizes)
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("node:\n  id: sandbox\nevaluation:\n  default_num_options: 42\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Node.ID != "sandbox" {
		t.Fatalf("expected node id sandbox, got %s", AppConfig.Node.ID)
	}
	if AppConfig.Evaluation.DefaultNumOptions != 42 {
		t.Fatalf("expected DefaultNumOptions 42, got %d", AppConfig.Evaluation.DefaultNumOptions)
	}
}
