package cmd

import (
	"ReelForge/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 ReelForge 服务",
	Long:  `启动时间线编辑 HTTP 服务：编辑命令、撤销重做、媒体缓存、导出和 websocket 推送`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
