package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

// File is one row of the files projection.
type File struct {
	EntityID string
	Path     string
	Dir      string
	Name     string
	Ext      sql.NullString
	Type     string
	Size     int64
	FSizeDU  int64
	MTime    float64
	ATime    float64
	CTime    float64
	NLinks   int64
	Inode    sql.NullInt64
	Dev      sql.NullInt64
	Owner    sql.NullString
	Group    sql.NullString
	UID      sql.NullInt64
	GID      sql.NullInt64
	Mode     sql.NullInt64
	Algo     sql.NullString
	Hash     sql.NullString
	Payload  string
	Deleted  bool
	Sequence int64
	// UpdatedAt is unix milliseconds.
	UpdatedAt int64
}

// fileFromEvent maps an upsert payload onto the files columns.
// Missing fields take the scanner defaults; fields present with the wrong
// type are an ErrInvalidPayload.
func fileFromEvent(ev event.Event, canonical []byte, updatedAt int64) (File, error) {
	p := ev.Payload
	f := File{
		EntityID:  ev.EntityID,
		Payload:   string(canonical),
		Sequence:  ev.Sequence,
		UpdatedAt: updatedAt,
	}

	var err error
	field := func(name string, fn func() error) {
		if err != nil {
			return
		}
		if ferr := fn(); ferr != nil {
			err = fmt.Errorf("%w: field %q: %v", ErrInvalidPayload, name, ferr)
		}
	}

	field("path", func() (e error) { f.Path, e = payloadString(p, "path", ""); return })
	field("dir", func() (e error) { f.Dir, e = payloadString(p, "dir", ""); return })
	field("name", func() (e error) { f.Name, e = payloadString(p, "name", ""); return })
	field("ext", func() (e error) { f.Ext, e = payloadNullString(p, "ext"); return })
	field("type", func() (e error) { f.Type, e = payloadString(p, "type", "file"); return })
	field("size", func() (e error) { f.Size, e = payloadInt(p, "size", 0); return })
	field("fsize_du", func() (e error) { f.FSizeDU, e = payloadInt(p, "fsize_du", 0); return })
	field("mtime", func() (e error) { f.MTime, e = payloadFloat(p, "mtime"); return })
	field("atime", func() (e error) { f.ATime, e = payloadFloat(p, "atime"); return })
	field("ctime", func() (e error) { f.CTime, e = payloadFloat(p, "ctime"); return })
	field("nlinks", func() (e error) { f.NLinks, e = payloadInt(p, "nlinks", 1); return })
	field("inode", func() (e error) { f.Inode, e = payloadNullInt(p, "inode"); return })
	field("dev", func() (e error) { f.Dev, e = payloadNullInt(p, "dev"); return })
	field("owner", func() (e error) { f.Owner, e = payloadNullString(p, "owner"); return })
	field("group", func() (e error) { f.Group, e = payloadNullString(p, "group"); return })
	field("uid", func() (e error) { f.UID, e = payloadNullInt(p, "uid"); return })
	field("gid", func() (e error) { f.GID, e = payloadNullInt(p, "gid"); return })
	field("mode", func() (e error) { f.Mode, e = payloadNullInt(p, "mode"); return })
	field("algo", func() (e error) { f.Algo, e = payloadNullString(p, "algo"); return })
	field("hash", func() (e error) { f.Hash, e = payloadNullString(p, "hash"); return })
	if err != nil {
		return File{}, err
	}
	return f, nil
}

// args returns the values in fileColumns order.
func (f File) args() []any {
	deleted := 0
	if f.Deleted {
		deleted = 1
	}
	return []any{
		f.EntityID, f.Path, f.Dir, f.Name, f.Ext, f.Type,
		f.Size, f.FSizeDU, f.MTime, f.ATime, f.CTime, f.NLinks,
		f.Inode, f.Dev, f.Owner, f.Group, f.UID, f.GID, f.Mode,
		f.Algo, f.Hash, f.Payload, deleted, f.Sequence, f.UpdatedAt,
	}
}

// Empty strings and null count as absent, like the scanner's `or` defaults.
func payloadString(p event.Payload, key, def string) (string, error) {
	switch v := p[key].(type) {
	case nil:
		return def, nil
	case string:
		if v == "" {
			return def, nil
		}
		return v, nil
	default:
		return "", fmt.Errorf("want string, got %T", v)
	}
}

func payloadNullString(p event.Payload, key string) (sql.NullString, error) {
	switch v := p[key].(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: v, Valid: true}, nil
	default:
		return sql.NullString{}, fmt.Errorf("want string, got %T", v)
	}
}

func payloadInt(p event.Payload, key string, def int64) (int64, error) {
	v, ok, err := toInt(p[key])
	if err != nil {
		return 0, err
	}
	if !ok || v == 0 {
		return def, nil
	}
	return v, nil
}

func payloadNullInt(p event.Payload, key string) (sql.NullInt64, error) {
	v, ok, err := toInt(p[key])
	if err != nil || !ok {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: v, Valid: true}, nil
}

func payloadFloat(p event.Payload, key string) (float64, error) {
	switch v := p[key].(type) {
	case nil:
		return 0, nil
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
}

// toInt accepts integral numbers only; 3.0 is fine, 3.5 is not.
func toInt(raw any) (int64, bool, error) {
	switch v := raw.(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return i, true, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false, err
		}
		return floatToInt(f)
	case float64:
		return floatToInt(v)
	case int64:
		return v, true, nil
	case int:
		return int64(v), true, nil
	default:
		return 0, false, fmt.Errorf("want integer, got %T", v)
	}
}

func floatToInt(f float64) (int64, bool, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false, fmt.Errorf("want integer, got %v", f)
	}
	return int64(f), true, nil
}
