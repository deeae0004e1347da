package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/stablecall/internal/ir"
)

// ModuleRecord is a deployed module as listed by Modules.
type ModuleRecord struct {
	Ref  ir.ModuleRef  `json:"ref"`
	Spec ir.ModuleSpec `json:"spec"`
}

// ProxyRecord is a deployed proxy as listed by Proxies.
type ProxyRecord struct {
	Address  ir.Address `json:"address"`
	Deployer ir.Address `json:"deployer"`
}

// EventFilter narrows an Events query. Zero fields match everything.
type EventFilter struct {
	Proxy    ir.Address
	Kind     ir.EventKind
	AfterSeq int64
}

// Module returns the spec of a deployed module, or ErrNotFound.
func (s *Store) Module(ctx context.Context, ref ir.ModuleRef) (ir.ModuleSpec, error) {
	return readModule(ctx, s.db, ref)
}

// Modules lists deployed modules ordered by name, version, ref.
// Returns an empty slice (not nil) if none exist.
func (s *Store) Modules(ctx context.Context) ([]ModuleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref, spec FROM modules
		ORDER BY name ASC, version ASC, ref COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	records := []ModuleRecord{}
	for rows.Next() {
		var ref, specJSON string
		if err := rows.Scan(&ref, &specJSON); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		spec, err := unmarshalSpec(specJSON)
		if err != nil {
			return nil, err
		}
		records = append(records, ModuleRecord{Ref: ir.ModuleRef(ref), Spec: spec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return records, nil
}

// Proxies lists deployed proxies ordered by address.
func (s *Store) Proxies(ctx context.Context) ([]ProxyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, deployer FROM proxies
		ORDER BY address COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query proxies: %w", err)
	}
	defer rows.Close()

	records := []ProxyRecord{}
	for rows.Next() {
		var address, deployer string
		if err := rows.Scan(&address, &deployer); err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		records = append(records, ProxyRecord{Address: ir.Address(address), Deployer: ir.Address(deployer)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}
	return records, nil
}

// ProxyExists reports whether a proxy has been deployed at address.
func (s *Store) ProxyExists(ctx context.Context, address ir.Address) (bool, error) {
	return proxyExists(ctx, s.db, address)
}

// LoadSlot reads one slot outside any transaction.
func (s *Store) LoadSlot(ctx context.Context, proxy ir.Address, slot uint64) ([]byte, error) {
	return loadSlot(ctx, s.db, proxy, slot)
}

// Slots returns every written slot of a proxy's frame.
// Used for inspection and for snapshot comparison in tests.
func (s *Store) Slots(ctx context.Context, proxy ir.Address) (map[uint64][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot, value FROM slots
		WHERE proxy = ?
		ORDER BY slot ASC
	`, string(proxy))
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	slots := make(map[uint64][]byte)
	for rows.Next() {
		var slot int64
		var value []byte
		if err := rows.Scan(&slot, &value); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots[uint64(slot)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return slots, nil
}

// Events returns audit events matching the filter, ordered by seq.
// Returns an empty slice (not nil) if none match.
func (s *Store) Events(ctx context.Context, filter EventFilter) ([]ir.Event, error) {
	var where []string
	var args []any
	if filter.Proxy != "" {
		where = append(where, "proxy = ?")
		args = append(args, string(filter.Proxy))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, filter.AfterSeq)
	}

	query := "SELECT seq, proxy, kind, data FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var ev ir.Event
		var proxy, kind, data string
		if err := rows.Scan(&ev.Seq, &proxy, &kind, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Proxy = ir.Address(proxy)
		ev.Kind = ir.EventKind(kind)
		ev.Data, err = unmarshalEventData(data)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
