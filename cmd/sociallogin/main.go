// Command sociallogin はユーザー管理とソーシャルログインのWebアプリケーション。
//
// 使い方:
//
//	sociallogin [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/sociallogin/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sociallogin: %v\n", err)
		os.Exit(1)
	}
}
