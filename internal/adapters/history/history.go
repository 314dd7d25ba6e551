package history

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/dashlink/dashlink/internal/domain"
	"github.com/dashlink/dashlink/internal/ports"
)

// Sink archives records into a Postgres/Timescale hypertable. Scalar kinds
// land in typed columns so they stay queryable; slice and struct kinds travel
// in the CBOR payload column.
type Sink struct {
	db        *sql.DB
	tableName string
}

func NewSink(db *sql.DB, table string) *Sink {
	return &Sink{db: db, tableName: table}
}

func (s *Sink) Name() string { return "history" }

func (s *Sink) WriteBatch(recs []domain.Record) error {
	if len(recs) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.tableName)
	b.WriteString(" (path, at, kind, num_value, bool_value, text_value, payload) VALUES ")

	args := make([]any, 0, len(recs)*7)
	for i := range recs {
		r := &recs[i]
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6, len(args)+7))

		num, boolv, text, payload, err := flatten(r.Value)
		if err != nil {
			return err
		}
		args = append(args, r.Path, r.Time(), r.Value.Kind.String(), num, boolv, text, payload)
	}

	b.WriteString(" ON CONFLICT (path, at) DO NOTHING")

	_, err := s.db.Exec(b.String(), args...)
	return err
}

func flatten(v domain.Value) (num, boolv, text, payload any, err error) {
	switch v.Kind {
	case domain.KindFloat:
		return v.Num, nil, nil, nil, nil
	case domain.KindBool:
		return nil, v.Bool, nil, nil, nil
	case domain.KindString:
		return nil, nil, v.Str, nil, nil
	case domain.KindFloats, domain.KindStrings, domain.KindStruct:
		b, err := cbor.Marshal(v)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("history encode payload: %w", err)
		}
		return nil, nil, nil, b, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("history: unsupported kind %s", v.Kind)
	}
}

var _ ports.Recorder = (*Sink)(nil)
