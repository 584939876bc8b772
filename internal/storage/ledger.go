package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"licensemarket/internal/models"
)

const ledgerFile = "signatures.csv"

// Ledger is the append-only record of issued license signatures, one
// "date,signature,orderID" line per license.
type Ledger struct {
	path  string
	locks *Locks
}

func NewLedger(s *Store) *Ledger {
	return &Ledger{path: filepath.Join(s.Root, ledgerFile), locks: s.Locks}
}

func (l *Ledger) Path() string { return l.path }

// Record appends entry. The ledger file has its own lock key, so it never
// contends with the order being fulfilled.
func (l *Ledger) Record(ctx context.Context, entry models.Signature) error {
	line, err := formatSignature(entry)
	if err != nil {
		return err
	}
	return l.locks.WithLock(ctx, l.path, func() error {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		if _, err := f.WriteString(line); err != nil {
			f.Close()
			return fmt.Errorf("append ledger: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync ledger: %w", err)
		}
		return f.Close()
	})
}

// ReadAll streams the ledger in append order. Lines are parsed as they
// are read; iteration stops at the first error, which is yielded.
func (l *Ledger) ReadAll(ctx context.Context) iter.Seq2[models.Signature, error] {
	return func(yield func(models.Signature, error) bool) {
		f, err := os.Open(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(models.Signature{}, fmt.Errorf("open ledger: %w", err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for n := 1; scanner.Scan(); n++ {
			if err := ctx.Err(); err != nil {
				yield(models.Signature{}, err)
				return
			}
			text := scanner.Text()
			if text == "" {
				continue
			}
			entry, err := parseSignature(text)
			if err != nil {
				yield(models.Signature{}, fmt.Errorf("ledger line %d: %w", n, err))
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(models.Signature{}, fmt.Errorf("scan ledger: %w", err))
		}
	}
}

func formatSignature(entry models.Signature) (string, error) {
	fields := []string{entry.Date.UTC().Format(time.RFC3339Nano), entry.Signature, entry.OrderID}
	for _, field := range fields {
		if field == "" || strings.ContainsAny(field, ",\r\n") {
			return "", fmt.Errorf("ledger: unencodable field %q", field)
		}
	}
	return strings.Join(fields, ",") + "\n", nil
}

func parseSignature(line string) (models.Signature, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return models.Signature{}, fmt.Errorf("want 3 fields, got %d", len(parts))
	}
	date, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return models.Signature{}, fmt.Errorf("parse date: %w", err)
	}
	return models.Signature{Date: date, Signature: parts[1], OrderID: parts[2]}, nil
}
