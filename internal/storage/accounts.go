package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrAccountNotFound = errors.New("account not found")

type Account struct {
	ID    string
	Email string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func CreateAccount(ctx context.Context, db *DB, email, password string) (Account, error) {
	e := normalizeEmail(email)
	if e == "" {
		return Account{}, errors.New("email address is required")
	}

	hash := ""
	if password != "" {
		h, err := HashPassword(password)
		if err != nil {
			return Account{}, err
		}
		hash = h
	}

	id := uuid.NewString()
	ts := nowMillis()
	_, err := db.ExecContext(ctx,
		"INSERT INTO accounts (account_id, email_address, password_hash, created, updated) VALUES (?, ?, ?, ?, ?)",
		id, e, hash, ts, ts)
	if err != nil {
		return Account{}, err
	}
	return Account{ID: id, Email: e}, nil
}

func GetAccountByEmail(ctx context.Context, db *DB, email string) (Account, error) {
	var a Account
	err := db.QueryRowContext(ctx,
		"SELECT account_id, email_address FROM accounts WHERE email_address = ?",
		normalizeEmail(email)).Scan(&a.ID, &a.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

// VerifyAccountPassword reports whether the password matches. Unknown
// accounts and accounts without a password never match.
func VerifyAccountPassword(ctx context.Context, db *DB, email, password string) (Account, bool, error) {
	var a Account
	var hash string
	err := db.QueryRowContext(ctx,
		"SELECT account_id, email_address, password_hash FROM accounts WHERE email_address = ?",
		normalizeEmail(email)).Scan(&a.ID, &a.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	if hash == "" || !VerifyPassword(password, hash) {
		return Account{}, false, nil
	}
	return a, true, nil
}

func SetAccountPassword(ctx context.Context, db *DB, accountID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		"UPDATE accounts SET password_hash = ?, updated = ? WHERE account_id = ?",
		hash, nowMillis(), accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ResetPassword gives the account a fresh random password and returns it.
func ResetPassword(ctx context.Context, db *DB, email string) (string, error) {
	a, err := GetAccountByEmail(ctx, db, email)
	if err != nil {
		return "", err
	}
	password, err := RandomPassword(12)
	if err != nil {
		return "", err
	}
	if err := SetAccountPassword(ctx, db, a.ID, password); err != nil {
		return "", err
	}
	return password, nil
}

// EnsurePersonalAccount returns the single account used when
// authentication is disabled, creating it on first use.
func EnsurePersonalAccount(ctx context.Context, db *DB) (Account, error) {
	const email = "user@localhost"
	a, err := GetAccountByEmail(ctx, db, email)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}
	return CreateAccount(ctx, db, email, "")
}

type StripeAccount struct {
	AccountID  string
	CustomerID string
}

func ListStripeAccounts(ctx context.Context, db *DB) ([]StripeAccount, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT account_id, stripe_customer_id FROM accounts WHERE stripe_customer_id IS NOT NULL AND stripe_customer_id != '' ORDER BY account_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StripeAccount
	for rows.Next() {
		var a StripeAccount
		if err := rows.Scan(&a.AccountID, &a.CustomerID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func SetStripeCustomerID(ctx context.Context, db *DB, accountID, customerID string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE accounts SET stripe_customer_id = ?, updated = ? WHERE account_id = ?",
		customerID, nowMillis(), accountID)
	return err
}

func SetStripeCustomer(ctx context.Context, db *DB, accountID string, customerJSON []byte) error {
	_, err := db.ExecContext(ctx,
		"UPDATE accounts SET stripe_customer = ?, updated = ? WHERE account_id = ?",
		string(customerJSON), nowMillis(), accountID)
	return err
}

func GetStripeCustomer(ctx context.Context, db *DB, accountID string) (string, error) {
	var v sql.NullString
	err := db.QueryRowContext(ctx, "SELECT stripe_customer FROM accounts WHERE account_id = ?", accountID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAccountNotFound
	}
	return v.String, err
}
