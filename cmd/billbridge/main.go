// Command billbridge はSEDAPALの請求書一覧とPDFをフロントエンド向けに中継するサーバー。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/billbridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
