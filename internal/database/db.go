package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// コネクションプールの既定値。
// リクエストごとのクエリはusers, identities, sessionsへの短い単発クエリのみ。
const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Open はusers, identities, sessionsを格納するPostgreSQLへの接続プールを開く。
// databaseURLの例: "postgres://sociallogin:pass@db:5432/sociallogin?sslmode=disable"
// 接続は遅延して確立されるため、疎通確認は呼び出し側でPingContextを行う。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	return db, nil
}
