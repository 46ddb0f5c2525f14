package app

import "log/slog"

// Command はsocialloginバイナリのサブコマンド。
type Command string

const (
	// CommandServe は画面とOAuthフローを提供するHTTPサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers, identities, sessionsのスキーマを最新にする。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの /health を叩いて終了する。
	// distrolessイメージにはcurlが無いため、Dockerのヘルスチェックから使う。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なし、または未知のサブコマンドはCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	for _, c := range knownCommands {
		if args[0] == string(c) {
			return c
		}
	}

	slog.Warn("unknown command, falling back to serve", slog.String("command", args[0]))
	return CommandServe
}
