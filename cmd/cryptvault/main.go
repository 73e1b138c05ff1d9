// Точка входа cryptvault — хранилище зашифрованных файлов арендаторов.
// Команды: serve (HTTP API + фоновая очистка корзины), migrate,
// sweep (однократная очистка), audit (сверка учёта квот и хранилища объектов).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/cryptvault/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cryptvault",
		Short: "Хранилище зашифрованных файлов с квотами арендаторов",
		Long: `cryptvault хранит зашифрованные клиентом файлы, учитывает квоты
арендаторов и удаляет файлы из корзины по истечении срока хранения.

Конфигурация задаётся переменными окружения CV_*.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetVersionTemplate(fmt.Sprintf("cryptvault %s\n", config.Version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newAuditCmd())
	return root
}
