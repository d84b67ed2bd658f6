package cli

import (
	"context"
	"fmt"

	"lexicon-go/internal/repository"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List equipment that failed in previous runs",
	Long:  `列出失败记录中的装备。这些装备没有写入存储，下次运行 label 时会重新请求。`,
	Run:   runFailures,
}

func runFailures(cmd *cobra.Command, args []string) {
	bgCtx := context.Background()
	cfg := loadConfig()

	failures, err := repository.OpenFailureLog(bgCtx, cfg)
	if err != nil {
		exitError("failed to open failure log: %v", err)
	}
	items, err := failures.List(bgCtx)
	if err != nil {
		exitError("%v", err)
	}
	if len(items) == 0 {
		fmt.Println("No failed equipment")
		return
	}

	red := color.New(color.FgRed)
	for _, it := range items {
		red.Printf("%s", it.EquipmentID)
		fmt.Printf(" %s (%d attempts, %s)\n", it.EquipmentName, it.Attempts, it.FailedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("    %s\n", it.Reason)
	}
	fmt.Printf("\n%d failed item(s)\n", len(items))
}
