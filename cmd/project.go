package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"ReelForge/config"
	"ReelForge/core/export"
	"ReelForge/core/persist"
	"ReelForge/core/sanitize"
	"ReelForge/core/timeline"

	"github.com/spf13/cobra"
)

var (
	projectFile  string
	projectWrite bool
	projectEDL   bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "项目文件工具",
	Long:  `离线查看、修复和导出 JSON 项目文件（默认 PROJECT_FILE）。`,
}

var projectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "显示项目概要",
	Run: func(cmd *cobra.Command, args []string) {
		st := loadProject()
		s := st.State()
		fmt.Printf("项目: %s (%s)\n", s.Project.Name, s.Project.ID)
		fmt.Printf("分辨率: %dx%d @ %d fps, 时长 %.2fs\n", s.Project.Width, s.Project.Height, s.Project.FPS, s.TimelineDuration())
		for _, t := range s.Tracks {
			flags := ""
			if t.Muted {
				flags += " muted"
			}
			if t.Locked {
				flags += " locked"
			}
			clips := s.ClipsForTrack(t.ID)
			fmt.Printf("  [%s] %s: %d 个片段%s\n", t.Type, t.Label, len(clips), flags)
			for _, c := range clips {
				fmt.Printf("      %7.2f - %7.2f  %s\n", c.StartTime, c.EndTime(), c.Label)
			}
		}
		fmt.Printf("标记: %d\n", len(s.Markers))
	},
}

var projectRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "检查并修复项目文件",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		a := persist.NewFileAdapter(projectPath())
		doc, err := a.Load(ctx)
		if err != nil {
			log.Fatalf("读取项目失败: %v", err)
		}
		report := sanitize.Document(doc)
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		if !report.Changed() {
			fmt.Println("项目无需修复")
			return
		}
		if !projectWrite {
			fmt.Println("使用 --write 写回修复结果")
			return
		}
		if err := a.Save(ctx, doc); err != nil {
			log.Fatalf("写回项目失败: %v", err)
		}
		fmt.Printf("已写回 %s\n", a.Path())
	},
}

var projectPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "输出导出计划（JSON 或 EDL）",
	Run: func(cmd *cobra.Command, args []string) {
		plan := export.BuildPlan(loadProject().State())
		if err := plan.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "导出计划不一致: %v\n", err)
		}
		if projectEDL {
			fmt.Print(plan.EDL())
			return
		}
		out, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			log.Fatalf("编码导出计划失败: %v", err)
		}
		fmt.Println(string(out))
	},
}

func projectPath() string {
	if projectFile != "" {
		return projectFile
	}
	return config.Load().ProjectFile
}

// loadProject 读取并修复项目文件，装入一个独立的 store
func loadProject() *timeline.Store {
	path := projectPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("项目文件不存在: %s", path)
	}
	st := timeline.New()
	report, err := persist.Hydrate(context.Background(), st, persist.NewFileAdapter(path))
	if err != nil {
		log.Fatalf("读取项目失败: %v", err)
	}
	if report.Changed() {
		fmt.Fprintln(os.Stderr, "项目在加载时做了修复，可运行 project repair --write 写回")
	}
	return st
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectShowCmd, projectRepairCmd, projectPlanCmd)

	projectCmd.PersistentFlags().StringVarP(&projectFile, "file", "f", "", "项目文件路径（默认 PROJECT_FILE）")
	projectRepairCmd.Flags().BoolVarP(&projectWrite, "write", "w", false, "把修复结果写回文件")
	projectPlanCmd.Flags().BoolVar(&projectEDL, "edl", false, "输出 CMX3600 EDL")
}
