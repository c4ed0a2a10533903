package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Сохранить токен доступа",
	Long: `Сохраняет bearer-токен, выданный сервером, в каталоге
конфигурации. Токен используется всеми последующими командами.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if loginToken == "" {
			return fmt.Errorf("требуется токен: fieldsync login --token <jwt>")
		}
		if err := app.SetToken(loginToken); err != nil {
			return fmt.Errorf("не удалось сохранить токен: %w", err)
		}

		color.Green("Токен сохранен")
		if err := app.CheckConnection(cmd.Context()); err != nil {
			color.Yellow("Сервер пока недоступен: %v", err)
		} else {
			fmt.Println("Соединение с сервером проверено")
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer-токен доступа")
}
