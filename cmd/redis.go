package cmd

import (
	"context"
	"fmt"
	"log"

	"ReelForge/cache"
	"ReelForge/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写，并显示当前项目在Redis中的存储情况。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		ctx := context.Background()

		cfg := config.Load()
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		if err := cache.CheckRedis(ctx, client); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		key := cache.ProjectKey(cfg.ProjectID)
		n, err := client.StrLen(ctx, key).Result()
		if err != nil {
			log.Fatalf("读取项目键失败: %v", err)
		}
		if n == 0 {
			fmt.Printf("项目 %s 尚未保存到Redis\n", cfg.ProjectID)
		} else {
			fmt.Printf("项目 %s: %s (%d 字节)\n", cfg.ProjectID, key, n)
		}
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
