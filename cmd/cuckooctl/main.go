// cuckooctl 令牌管理与运维命令行工具，直接操作配置中的存储后端。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/config"
	"cuckoopost/backend/internal/logger"
	"cuckoopost/backend/internal/storage"
	"cuckoopost/backend/internal/storage/factory"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "cuckooctl",
		Short:         "Manage CuckooPost tokens and storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log storage activity to stderr")

	env := &cliEnv{verbose: &verbose}
	root.AddCommand(
		commandToken(env),
		commandMigrate(env),
		commandHashPassword(),
	)
	return root
}

// cliEnv 子命令共享的配置与存储
type cliEnv struct {
	verbose *bool
}

func (e *cliEnv) logger() *zap.Logger {
	if e.verbose != nil && *e.verbose {
		return logger.NewDevelopmentLogger()
	}
	return zap.NewNop()
}

// openStore 加载配置并打开存储，调用方负责关闭
func (e *cliEnv) openStore(ctx context.Context) (*config.Config, storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := factory.Open(ctx, cfg, e.logger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}
