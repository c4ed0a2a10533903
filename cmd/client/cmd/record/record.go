package record

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fieldsync/internal/app/client"
)

var (
	entityType string
	payload    string
	listAll    bool
)

// New создает команду работы с локальными записями
func New(getApp func() *client.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Локальные записи наблюдений",
		Long: `Добавление и просмотр локальных записей. Новые записи
попадают в очередь и уходят на сервер при следующей синхронизации.`,
	}

	cmd.AddCommand(newAddCmd(getApp))
	cmd.AddCommand(newListCmd(getApp))
	cmd.AddCommand(newDeleteCmd(getApp))
	return cmd
}

func newAddCmd(getApp func() *client.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Добавить запись в локальную очередь",
		RunE: func(_ *cobra.Command, _ []string) error {
			app := getApp()
			if app == nil {
				return fmt.Errorf("приложение не инициализировано")
			}

			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload должен быть валидным JSON")
			}

			rec := &client.LocalRecord{
				ID:         uuid.NewString(),
				EntityType: entityType,
				Payload:    json.RawMessage(payload),
			}
			if err := app.Storage().SaveRecord(rec); err != nil {
				return fmt.Errorf("не удалось сохранить запись: %w", err)
			}

			color.Green("Запись %s добавлена в очередь", rec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "species", "тип сущности: species, fossil, collection")
	cmd.Flags().StringVar(&payload, "payload", "", "снимок сущности в формате JSON")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newListCmd(getApp func() *client.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Показать локальные записи",
		RunE: func(_ *cobra.Command, _ []string) error {
			app := getApp()
			if app == nil {
				return fmt.Errorf("приложение не инициализировано")
			}

			filter := &client.RecordFilter{}
			if !listAll {
				filter.OnlyUnsynced = true
			}
			records, err := app.Storage().ListRecords(filter)
			if err != nil {
				return fmt.Errorf("не удалось получить записи: %w", err)
			}

			if len(records) == 0 {
				fmt.Println("Записей нет")
				return nil
			}

			for _, rec := range records {
				mark := color.YellowString("в очереди")
				if rec.Synced {
					mark = color.GreenString("синхронизирована")
				}
				fmt.Printf("%s  %-10s  v%-3d  %s  %s\n",
					rec.ID, rec.EntityType, rec.Version,
					rec.UpdatedAt.Format("2006-01-02 15:04:05"), mark)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&listAll, "all", false, "включая синхронизированные записи")
	return cmd
}

func newDeleteCmd(getApp func() *client.App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Пометить запись удаленной",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			app := getApp()
			if app == nil {
				return fmt.Errorf("приложение не инициализировано")
			}

			if err := app.Storage().DeleteRecord(args[0]); err != nil {
				return fmt.Errorf("не удалось удалить запись: %w", err)
			}
			color.Green("Запись %s помечена удаленной", args[0])
			return nil
		},
	}
}
