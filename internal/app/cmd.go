package app

import "fmt"

// Command はcodeialプロセスの起動モード。
type Command string

const (
	CommandServe   Command = "serve"   // HTTPサーバー（ブラウザ・API・チャット）
	CommandWorker  Command = "worker"  // 期限切れセッションの定期削除
	CommandMigrate Command = "migrate" // スキーマの適用
	// CommandHealthcheck はイメージ内から/healthを叩く。distrolessにはcurlがない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なしはserve。未知のサブコマンドはエラーにし、2つ目以降の引数は見ない。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (want serve, worker, migrate or healthcheck)", args[0])
	}
	return cmd, nil
}
