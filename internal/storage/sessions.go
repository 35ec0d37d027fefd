package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

func CreateSession(ctx context.Context, db *DB, accountID string, ttl time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = db.ExecContext(ctx,
		"INSERT INTO sessions (token_hash, account_id, created, expire) VALUES (?, ?, ?, ?)",
		sha256Hex(token), accountID, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return "", err
	}
	return token, nil
}

func DeleteSession(ctx context.Context, db *DB, token string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", sha256Hex(strings.TrimSpace(token)))
	return err
}

func GetSessionAccount(ctx context.Context, db *DB, token string) (Account, bool, error) {
	var a Account
	var expire int64
	err := db.QueryRowContext(ctx, `
SELECT a.account_id, a.email_address, s.expire
FROM sessions s
JOIN accounts a ON a.account_id = s.account_id
WHERE s.token_hash = ?
`, sha256Hex(strings.TrimSpace(token))).Scan(&a.ID, &a.Email, &expire)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	if expire <= nowMillis() {
		return Account{}, false, nil
	}
	return a, true, nil
}

func DeleteExpiredSessions(ctx context.Context, db *DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE expire <= ?", now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sha256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
