// Package main - консольная утилита progressctl для управления движком прогрессии.
//
// Утилита работает с тем же хранилищем, что и Worker, и позволяет:
// - Регистрировать пользователей и менять профиль
// - Начислять и корректировать XP, отмечать задания и ежедневную активность
// - Смотреть ранги и пересчитывать их вручную
// - Применять миграции и согласовывать состояние пользователей
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/progression-engine/internal/di"
	"github.com/alem-hub/progression-engine/internal/interface/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := di.NewContainer()
	defer func() {
		if err := injector.Shutdown(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	err := cli.NewRootCommand(injector).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return cli.ExitCode(err)
}
