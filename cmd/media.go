package cmd

import (
	"context"
	"fmt"
	"log"
	"sort"

	"ReelForge/config"
	"ReelForge/model"
	"ReelForge/storage"

	"github.com/spf13/cobra"
)

var (
	mediaStats  bool
	mediaPurge  bool
	mediaPrefix string
	mediaLimit  int
)

// mediaLister 可列出条目的持久化媒体存储
type mediaLister interface {
	List(ctx context.Context) ([]model.MediaEntry, error)
	Clear(ctx context.Context) error
}

var mediaCmd = &cobra.Command{
	Use:     "media",
	Aliases: []string{"minio"},
	Short:   "媒体缓存管理",
	Long:    `查看和清理持久化的媒体缓存（MEDIA_STORE=disk 或 minio），支持列出条目、统计信息和清空。`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := config.Load()

		var store mediaLister
		var minioStore *storage.MinioMediaStore
		switch cfg.MediaStore {
		case "minio":
			fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
			s, err := storage.NewMinioMediaStore(ctx, cfg)
			if err != nil {
				log.Fatalf("无法连接到MinIO: %v", err)
			}
			minioStore = s
			store = s
		case "disk", "":
			fmt.Printf("本地媒体目录: %s\n", cfg.MediaDir)
			s, err := storage.NewDiskMediaStore(cfg.MediaDir)
			if err != nil {
				log.Fatalf("打开媒体目录失败: %v", err)
			}
			defer s.Close()
			store = s
		default:
			log.Fatalf("媒体存储 %q 没有持久化内容", cfg.MediaStore)
		}

		if mediaPurge {
			var err error
			if mediaPrefix != "" {
				if minioStore == nil {
					log.Fatal("按前缀删除只支持 MinIO")
				}
				fmt.Printf("删除前缀: %s\n", mediaPrefix)
				err = minioStore.DeletePrefix(ctx, mediaPrefix)
			} else {
				fmt.Println("清空媒体缓存...")
				err = store.Clear(ctx)
			}
			if err != nil {
				log.Fatalf("删除失败: %v", err)
			}
			fmt.Println("删除完成")
			return
		}

		entries, err := store.List(ctx)
		if err != nil {
			log.Fatalf("列出媒体失败: %v", err)
		}

		if mediaStats {
			printStats(storage.Summarize(entries))
			return
		}

		fmt.Printf("\n共 %d 个条目\n", len(entries))
		for i, e := range entries {
			if mediaLimit > 0 && i >= mediaLimit {
				fmt.Printf("... 还有 %d 个\n", len(entries)-mediaLimit)
				break
			}
			fmt.Printf("%s  %-10s %-8s %s  %s\n",
				e.Key, storage.FormatSize(e.Size), storage.MediaKind(e.MimeType, e.URL),
				e.CachedAt.Format("2006-01-02 15:04:05"), e.URL)
		}
	},
}

func printStats(s storage.BucketStats) {
	fmt.Println("\n媒体缓存统计信息:")
	fmt.Printf("总条目数: %d\n", s.TotalObjects)
	fmt.Printf("总大小: %s\n", storage.FormatSize(s.TotalSize))
	if !s.LastModified.IsZero() {
		fmt.Printf("最后缓存时间: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
	}
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-8s %s\n", k, storage.FormatSize(s.ByKind[k]))
	}
}

func init() {
	rootCmd.AddCommand(mediaCmd)

	mediaCmd.Flags().BoolVarP(&mediaStats, "stats", "s", false, "显示统计信息")
	mediaCmd.Flags().BoolVarP(&mediaPurge, "purge", "d", false, "删除缓存（配合 -p 按前缀删除）")
	mediaCmd.Flags().StringVarP(&mediaPrefix, "prefix", "p", "", "要删除的对象前缀（仅 MinIO）")
	mediaCmd.Flags().IntVarP(&mediaLimit, "limit", "n", 50, "最多列出多少条，0 表示全部")

	mediaCmd.Example = `  # 列出缓存条目
  reelforge media

  # 显示统计信息
  reelforge media -s

  # 清空缓存
  reelforge media -d

  # 删除 MinIO 中某个前缀
  MEDIA_STORE=minio reelforge minio -d -p "media/ab"`
}
