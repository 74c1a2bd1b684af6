package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/history"
	"Orchestra-Engine/sdk/go/orchd"
)

var (
	historyAddr  string
	historyLimit int
	historyStats bool
	historyLocal bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查看编排历史",
	Long: `默认通过 --addr 查询运行中的 orchd 服务；
使用 --archive 时直接读取配置中的历史归档（file、sqlite、mysql、redis）。`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyAddr, "addr", "http://127.0.0.1:8080", "orchd API 地址")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "最多显示的条数")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "只显示聚合统计")
	historyCmd.Flags().BoolVar(&historyLocal, "archive", false, "直接读取历史归档")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out := cmd.OutOrStdout()

	if historyLocal {
		return listArchive(ctx, out)
	}

	client, err := orchd.NewClient(historyAddr, nil)
	if err != nil {
		return err
	}
	if historyStats {
		stats, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "总数=%d  成功=%s  失败=%s  取消=%s  平均质量=%.2f  失败率=%.2f  已淘汰=%d\n",
			stats.Total,
			okColor.Sprint(stats.Succeeded),
			failColor.Sprint(stats.Failed),
			warnColor.Sprint(stats.Cancelled),
			stats.MeanQuality, stats.FailureRate, stats.Evicted)
		return nil
	}
	hist, err := client.History(ctx, historyLimit, false)
	if err != nil {
		return err
	}
	rows := make([]historyRow, 0, len(hist.Entries))
	for _, e := range hist.Entries {
		rows = append(rows, historyRow{e.Timestamp, e.OrchestrationID, e.Status, e.QualityScore, e.Duration, e.ErrorCode})
	}
	printHistory(out, rows)
	return nil
}

func listArchive(ctx context.Context, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sink, err := history.Open(ctx, cfg.HistorySink)
	if err != nil {
		return err
	}
	if sink == nil {
		return xerrors.New(xerrors.CodeNotFound, "未配置历史归档 (history_sink.driver=none)")
	}
	defer sink.Close()

	entries, err := sink.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	rows := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, historyRow{e.Timestamp, e.OrchestrationID, string(e.Status), e.QualityScore, e.Duration, e.ErrorCode})
	}
	printHistory(out, rows)
	return nil
}

type historyRow struct {
	at       time.Time
	id       string
	status   string
	quality  float64
	duration time.Duration
	code     string
}

func printHistory(w io.Writer, rows []historyRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("暂无历史记录"))
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %-36s  %s  质量=%.2f  %8s  %s\n",
			r.at.Local().Format("2006-01-02 15:04:05"),
			r.id,
			statusColor(r.status).Sprintf("%-9s", r.status),
			r.quality,
			r.duration.Round(time.Millisecond),
			r.code)
	}
}
