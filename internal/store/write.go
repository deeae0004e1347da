package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// Tx is a write transaction handed to Update callbacks.
// It must not be used after the callback returns.
type Tx struct {
	tx *sql.Tx
}

// LoadSlot reads one slot of a proxy's frame. An unwritten slot returns nil.
func (t *Tx) LoadSlot(ctx context.Context, proxy ir.Address, slot uint64) ([]byte, error) {
	return loadSlot(ctx, t.tx, proxy, slot)
}

// StoreSlot writes one slot of a proxy's frame.
// Writing an empty value deletes the row so it reads back as unset.
func (t *Tx) StoreSlot(ctx context.Context, proxy ir.Address, slot uint64, value []byte) error {
	if len(value) == 0 {
		_, err := t.tx.ExecContext(ctx, `DELETE FROM slots WHERE proxy = ? AND slot = ?`, string(proxy), int64(slot))
		if err != nil {
			return fmt.Errorf("clear slot %d: %w", slot, err)
		}
		return nil
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO slots (proxy, slot, value)
		VALUES (?, ?, ?)
		ON CONFLICT(proxy, slot) DO UPDATE SET value = excluded.value
	`, string(proxy), int64(slot), value)
	if err != nil {
		return fmt.Errorf("store slot %d: %w", slot, err)
	}
	return nil
}

// CreateProxy registers a new proxy address.
// Returns ErrProxyExists if the address is already taken.
func (t *Tx) CreateProxy(ctx context.Context, address, deployer ir.Address) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO proxies (address, deployer)
		VALUES (?, ?)
		ON CONFLICT(address) DO NOTHING
	`, string(address), string(deployer))
	if err != nil {
		return fmt.Errorf("create proxy: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create proxy: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("create proxy %s: %w", address, ErrProxyExists)
	}
	return nil
}

// ProxyExists reports whether a proxy has been deployed at address.
func (t *Tx) ProxyExists(ctx context.Context, address ir.Address) (bool, error) {
	return proxyExists(ctx, t.tx, address)
}

// InsertModule stores a deployed module spec.
// Uses ON CONFLICT(ref) DO NOTHING: modules are content-addressed, so a
// duplicate ref is the same module. Returns whether a new row was inserted.
func (t *Tx) InsertModule(ctx context.Context, ref ir.ModuleRef, spec ir.ModuleSpec) (bool, error) {
	specJSON, err := marshalSpec(spec)
	if err != nil {
		return false, fmt.Errorf("insert module: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO modules (ref, name, version, spec)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ref) DO NOTHING
	`, string(ref), spec.Name, spec.Version, specJSON)
	if err != nil {
		return false, fmt.Errorf("insert module: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert module: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Module returns the spec of a deployed module, or ErrNotFound.
func (t *Tx) Module(ctx context.Context, ref ir.ModuleRef) (ir.ModuleSpec, error) {
	return readModule(ctx, t.tx, ref)
}

// AppendEvent writes an audit event and returns the seq SQLite assigned it.
// ev.Seq is ignored. The seq is taken under the database write lock, so
// processes sharing one database file never collide.
func (t *Tx) AppendEvent(ctx context.Context, ev ir.Event) (int64, error) {
	dataJSON, err := marshalEventData(ev.Data)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (proxy, kind, data)
		VALUES (?, ?, ?)
	`, string(ev.Proxy), string(ev.Kind), dataJSON)
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", ev.Kind, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", ev.Kind, err)
	}
	return seq, nil
}

// queryer is implemented by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSlot(ctx context.Context, q queryer, proxy ir.Address, slot uint64) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `
		SELECT value FROM slots WHERE proxy = ? AND slot = ?
	`, string(proxy), int64(slot)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %d: %w", slot, err)
	}
	return value, nil
}

func proxyExists(ctx context.Context, q queryer, address ir.Address) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proxies WHERE address = ?
	`, string(address)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check proxy: %w", err)
	}
	return count > 0, nil
}

func readModule(ctx context.Context, q queryer, ref ir.ModuleRef) (ir.ModuleSpec, error) {
	var specJSON string
	err := q.QueryRowContext(ctx, `
		SELECT spec FROM modules WHERE ref = ?
	`, string(ref)).Scan(&specJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ModuleSpec{}, fmt.Errorf("module %s: %w", ref.Short(), ErrNotFound)
	}
	if err != nil {
		return ir.ModuleSpec{}, fmt.Errorf("read module: %w", err)
	}
	return unmarshalSpec(specJSON)
}
