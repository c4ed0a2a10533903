package sync

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldsync/internal/app/client"
)

var (
	showStatus bool
	resetStats bool
	watchSync  bool
)

// New создает команду управления синхронизацией
func New(getApp func() *client.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Управление синхронизацией",
		Long: `Синхронизация локальной очереди изменений с сервером.

Команда выгружает накопленные изменения, забирает чужие и
разрешает конфликты версий по правилу last-write-wins.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := getApp()
			if app == nil {
				return fmt.Errorf("приложение не инициализировано")
			}

			if showStatus {
				return printStatus(cmd.Context(), app)
			}
			if resetStats {
				app.Engine().ResetStats()
				color.Green("Статистика синхронизации сброшена")
				return nil
			}
			if watchSync {
				return runAutoSync(cmd.Context(), app)
			}
			return runSync(cmd.Context(), app)
		},
	}

	cmd.Flags().BoolVar(&showStatus, "status", false, "показать статус синхронизации")
	cmd.Flags().BoolVar(&resetStats, "reset", false, "сбросить статистику синхронизации")
	cmd.Flags().BoolVar(&watchSync, "watch", false, "синхронизироваться периодически до прерывания")
	return cmd
}

func runSync(ctx context.Context, app *client.App) error {
	if !app.IsAuthenticated() {
		return fmt.Errorf("требуется аутентификация. Выполните: fieldsync login --token <jwt>")
	}

	fmt.Println("Проверка соединения с сервером...")
	if err := app.CheckConnection(ctx); err != nil {
		return fmt.Errorf("сервер недоступен: %v", err)
	}

	fmt.Println("Начало синхронизации...")
	result, err := app.Sync(ctx)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации: %w", err)
	}

	fmt.Println()
	if result.Success {
		color.Green("Синхронизация завершена")
	} else {
		color.Yellow("Синхронизация завершена с ошибками")
	}
	fmt.Printf("Время выполнения: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Выгружено на сервер: %d записей\n", result.Uploaded)
	fmt.Printf("Загружено с сервера: %d записей\n", result.Downloaded)

	if result.Conflicts > 0 {
		fmt.Printf("Обнаружено конфликтов: %d, разрешено: %d\n", result.Conflicts, result.Resolved)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("Ошибок при синхронизации: %d\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 3 {
				fmt.Printf("  ... и еще %d ошибок\n", len(result.Errors)-3)
				break
			}
			fmt.Printf("  • %s: %s\n", e.Operation, e.Error)
		}
	}

	stats := app.Engine().GetStats()
	fmt.Printf("Всего синхронизаций: %d\n", stats.TotalSyncs)
	if !stats.LastSuccessful.IsZero() {
		fmt.Printf("Последняя успешная: %s\n", stats.LastSuccessful.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runAutoSync(ctx context.Context, app *client.App) error {
	if !app.IsAuthenticated() {
		return fmt.Errorf("требуется аутентификация. Выполните: fieldsync login --token <jwt>")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := app.Config().SyncInterval
	fmt.Printf("Периодическая синхронизация каждые %v, Ctrl+C для выхода\n", interval)
	app.RunAutoSync(ctx)
	return nil
}

func printStatus(ctx context.Context, app *client.App) error {
	fmt.Println("=== Статус синхронизации ===")

	stats := app.Engine().GetStats()
	fmt.Println("Статистика:")
	fmt.Printf("  Всего синхронизаций: %d\n", stats.TotalSyncs)
	fmt.Printf("  Успешных: %d\n", stats.TotalSyncs-stats.TotalErrors)
	fmt.Printf("  С ошибками: %d\n", stats.TotalErrors)
	fmt.Printf("  Выгружено на сервер: %d записей\n", stats.TotalUploaded)
	fmt.Printf("  Загружено с сервера: %d записей\n", stats.TotalDownloaded)
	fmt.Printf("  Обнаружено конфликтов: %d\n", stats.TotalConflicts)
	fmt.Printf("  Разрешено конфликтов: %d\n", stats.TotalResolved)
	fmt.Printf("  Среднее время: %.2f сек\n", stats.AvgSyncDuration)

	if !stats.LastSuccessful.IsZero() {
		fmt.Printf("\nПоследняя успешная: %s\n", stats.LastSuccessful.Format("2006-01-02 15:04:05"))
	}
	if !stats.LastFailed.IsZero() {
		fmt.Printf("Последняя неудачная: %s\n", stats.LastFailed.Format("2006-01-02 15:04:05"))
	}

	count, err := app.Storage().CountRecords()
	if err == nil {
		fmt.Printf("\nЛокальных записей: %d\n", count)
	}
	pending, err := app.Storage().ListRecords(&client.RecordFilter{OnlyUnsynced: true, ShowDeleted: true})
	if err == nil {
		fmt.Printf("В очереди на отправку: %d\n", len(pending))
	}

	fmt.Printf("\nСоединение с сервером: ")
	if err := app.CheckConnection(ctx); err != nil {
		color.Red("недоступно: %v", err)
	} else {
		color.Green("OK")
	}

	fmt.Printf("Аутентификация: ")
	if app.IsAuthenticated() {
		color.Green("выполнена")
	} else {
		color.Red("требуется вход")
	}

	return nil
}
