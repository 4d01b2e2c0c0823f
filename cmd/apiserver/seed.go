package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatline/internal/imtypes"
	"chatline/internal/seed"
	"chatline/internal/services"
	"chatline/internal/websocket"
)

var seedOpts seed.Options

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "生成本地演示数据（用户、好友关系、群聊和消息）",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		// 离线生成数据：没有在线会话，事件直接丢弃
		svc := services.NewContainer(services.Dependencies{
			DB:       db,
			Emitter:  imtypes.DiscardEmitter{},
			Registry: websocket.NewMemoryRegistry(),
			Auth:     cfg.Auth,
			Paging:   cfg.Channel,
		}, logger)

		res, err := seed.New(svc, logger).Run(cmd.Context(), seedOpts)
		if err != nil {
			return err
		}
		for _, u := range res.Users {
			logger.Info("种子用户", zap.String("username", u.Username), zap.String("email", u.Email))
		}
		fmt.Printf("已创建 %d 个用户（密码均为 %q），群聊 %s，%d 条消息\n",
			len(res.Users), seed.DefaultPassword, res.GroupID, res.Messages)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedOpts.NumUsers, "users", 10, "要创建的用户数")
	seedCmd.Flags().IntVar(&seedOpts.NumMessages, "messages", 20, "群聊中的消息数")
	seedCmd.Flags().StringVar(&seedOpts.GroupName, "group", "General", "群聊名称")
	seedCmd.Flags().Int64Var(&seedOpts.Seed, "seed", 0, "随机种子，0 表示随机")
}
